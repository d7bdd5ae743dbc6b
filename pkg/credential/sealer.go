package credential

import "context"

// Sealer encrypts and decrypts the serialized CredentialState bytes that
// cross a StateStore boundary. The manager depends only on this interface;
// pkg/credential/kms provides the concrete PBKDF2+AES-256-GCM implementation
// so encryption-key management stays out of the manager's dependency graph.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Unseal(ctx context.Context, sealed []byte) ([]byte, error)
}
