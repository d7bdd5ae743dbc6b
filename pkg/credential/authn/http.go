package authn

import (
	"net/http"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// BearerHeader attaches an AccessToken as an "Authorization: Bearer <value>"
// header, the standard case pkg/auth's OAuthAuthenticatorImpl and
// APIKeyAuthenticatorImpl both special-case inline; here it is a reusable
// Authenticator[*http.Request] instead.
type BearerHeader struct{}

func (BearerHeader) Apply(token *credential.AccessToken, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+token.Value())
	return nil
}

// CustomHeader attaches an AccessToken's value under an arbitrary header
// name, matching pkg/auth/apikey.go's per-provider configurable header
// (e.g. "X-API-Key").
type CustomHeader struct {
	Name string
}

func (h CustomHeader) Apply(token *credential.AccessToken, req *http.Request) error {
	req.Header.Set(h.Name, token.Value())
	return nil
}

var (
	_ Authenticator[*http.Request] = BearerHeader{}
	_ Authenticator[*http.Request] = CustomHeader{}
)
