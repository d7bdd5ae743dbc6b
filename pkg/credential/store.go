package credential

// StateStore is the durable-persistence capability contract for encrypted
// credential records.
// Grounded on pkg/auth/storage.go's FileTokenStorage/MemoryTokenStorage,
// generalized to carry an opaque version_token for optimistic concurrency
// (that storage has no such primitive) and to persist the full Record
// envelope rather than a bare blob.
type StateStore interface {
	// Load returns the current Record for id, including its version_token.
	// Fails with a KindNotFound error if no record exists.
	Load(ctx *Context, id ID) (*Record, error)

	// Save writes rec. expectedVersionToken is empty for create semantics
	// (no prior record expected). Fails with KindConflict if
	// expectedVersionToken does not match the store's current token for
	// id. On success rec.VersionToken is updated to the new token and that
	// token is also returned.
	Save(ctx *Context, rec *Record, expectedVersionToken string) (newVersionToken string, err error)

	// Delete removes the record for id. Deleting a missing record is not
	// an error.
	Delete(ctx *Context, id ID) error

	// List returns ids matching filter (a storage-specific prefix/predicate
	// string; empty matches everything). Administrative use only.
	List(ctx *Context, filter string) ([]ID, error)
}
