package credential

// Factory is a type-erased adapter that drives a typed Credential from
// JSON-ish input/state. It is the only place where erased values
// cross over into typed values; decoding errors are surfaced as
// KindTypeMismatch.
//
// Grounded on pkg/auth/factory.go's AuthenticatorFactory (dispatch by
// types.AuthMethod) and the google-adk-go ExchangerRegistry/RefresherRegistry
// split, collapsed into one capability since exchange and refresh are
// modeled as a single operation pair per credential type.
type Factory interface {
	// TypeName reports the stable type_name this factory answers for.
	TypeName() string

	// Metadata reports the static descriptor for this credential type.
	Metadata() Metadata

	// InitializeFromJSON runs Credential.initialize with input decoded from
	// inputJSON. Returns either a serialized State plus an optional minted
	// token, or an Interaction describing what the caller must do next.
	InitializeFromJSON(ctx *Context, inputJSON []byte) (stateJSON []byte, token *AccessToken, interaction *Interaction, err error)

	// ContinueFromJSON resumes an initialize that previously returned an
	// Interaction, given its persisted PartialState and the caller's
	// continuation input.
	ContinueFromJSON(ctx *Context, partialState, continuationInputJSON []byte) (stateJSON []byte, token *AccessToken, interaction *Interaction, err error)

	// RefreshFromJSON runs Credential.refresh against the decoded state.
	RefreshFromJSON(ctx *Context, stateJSON []byte) (newStateJSON []byte, token *AccessToken, err error)

	// RevokeFromJSON runs Credential.revoke against the decoded state.
	RevokeFromJSON(ctx *Context, stateJSON []byte) (newStateJSON []byte, err error)

	// ValidateFromJSON runs Credential.validate against the decoded state.
	ValidateFromJSON(ctx *Context, stateJSON []byte) (bool, error)
}
