// Package oauth2 implements the authorization-code+PKCE / refresh-token-grant
// credential type, grounded on pkg/auth/oauth.go's OAuthAuthenticatorImpl
// (StartOAuthFlow/HandleCallback/RefreshToken), but driving the actual HTTP
// exchange through golang.org/x/oauth2 instead of that file's hand-rolled
// url.Values POST + json.Decode, per the domain-stack decision to prefer a
// maintained OAuth2 client library wherever the pack uses one.
package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	xoauth2 "golang.org/x/oauth2"

	"github.com/cecil-the-coder/credential-kit/pkg/credential"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/secure"
	"github.com/cecil-the-coder/credential-kit/pkg/credential/state"
)

// TypeName is the stable type_name this factory answers for.
const TypeName = state.OAuth2Kind

// Factory adapts the oauth2 CredentialState to the Factory contract.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) TypeName() string { return TypeName }

func (f *Factory) Metadata() credential.Metadata {
	return credential.Metadata{
		TypeName:            TypeName,
		Name:                "OAuth2",
		Description:         "Authorization-code grant with PKCE, refreshed via refresh_token.",
		SupportsRefresh:     true,
		RequiresInteraction: true,
	}
}

type initInput struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
}

type partialState struct {
	Input initInput `json:"input"`
	State string    `json:"state"`
	PKCE  string    `json:"pkce_verifier"`
}

func (f *Factory) oauthConfig(in initInput) *xoauth2.Config {
	return &xoauth2.Config{
		ClientID:     in.ClientID,
		ClientSecret: in.ClientSecret,
		RedirectURL:  in.RedirectURL,
		Scopes:       in.Scopes,
		Endpoint: xoauth2.Endpoint{
			AuthURL:  in.AuthURL,
			TokenURL: in.TokenURL,
		},
	}
}

// InitializeFromJSON begins the authorization-code flow: it generates a
// CSRF state token and, on every call, a PKCE verifier and S256 challenge,
// and returns an Interaction directing the caller to visit
// the authorization URL, matching StartOAuthFlow's redirect shape.
func (f *Factory) InitializeFromJSON(ctx *credential.Context, inputJSON []byte) ([]byte, *credential.AccessToken, *credential.Interaction, error) {
	var in initInput
	if err := json.Unmarshal(inputJSON, &in); err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "initialize", err)
	}
	if in.ClientID == "" || in.AuthURL == "" || in.TokenURL == "" {
		return nil, nil, nil, credential.New(credential.KindValidationFailed, "initialize", "client_id, auth_url, and token_url are required")
	}

	csrfState, err := randomURLSafe(32)
	if err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindTransient, "initialize", err)
	}
	verifier, err := randomURLSafe(64)
	if err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindTransient, "initialize", err)
	}
	challenge := pkceChallengeS256(verifier)

	cfg := f.oauthConfig(in)
	authURL := cfg.AuthCodeURL(csrfState,
		xoauth2.SetAuthURLParam("code_challenge", challenge),
		xoauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	ps := partialState{Input: in, State: csrfState, PKCE: verifier}
	partialJSON, err := json.Marshal(ps)
	if err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "initialize", err)
	}

	interaction := &credential.Interaction{
		PartialState: partialJSON,
		Step: credential.Step{
			Kind:  credential.StepRedirect,
			URL:   authURL,
			State: csrfState,
		},
	}
	return nil, nil, interaction, nil
}

type continueInput struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// ContinueFromJSON exchanges an authorization code for tokens, validating
// the CSRF state and supplying the PKCE verifier, matching HandleCallback.
func (f *Factory) ContinueFromJSON(ctx *credential.Context, partialStateJSON, continuationInputJSON []byte) ([]byte, *credential.AccessToken, *credential.Interaction, error) {
	var ps partialState
	if err := json.Unmarshal(partialStateJSON, &ps); err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindStorageCorruption, "continue", err)
	}
	var in continueInput
	if err := json.Unmarshal(continuationInputJSON, &in); err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "continue", err)
	}
	if in.State == "" || in.State != ps.State {
		return nil, nil, nil, credential.New(credential.KindValidationFailed, "continue", "oauth2 state mismatch")
	}

	cfg := f.oauthConfig(ps.Input)
	tok, err := cfg.Exchange(ctx.Ctx, in.Code,
		xoauth2.SetAuthURLParam("code_verifier", ps.PKCE),
	)
	if err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindAuthenticationFailed, "continue", err)
	}

	st := &state.OAuth2State{
		AccessToken:  secure.New(tok.AccessToken),
		RefreshToken: secure.New(tok.RefreshToken),
		ExpiresAt:    tok.Expiry,
		Scopes:       ps.Input.Scopes,
		ClientID:     ps.Input.ClientID,
		ClientSecret: secure.New(ps.Input.ClientSecret),
		AuthURL:      ps.Input.AuthURL,
		TokenURL:     ps.Input.TokenURL,
		RedirectURL:  ps.Input.RedirectURL,
	}
	stateJSON, err := st.MarshalForStorage()
	st.Close()
	if err != nil {
		return nil, nil, nil, credential.Wrap(credential.KindValidationFailed, "continue", err)
	}

	accessToken := credential.Bearer(tok.AccessToken).WithExpiration(tok.Expiry)
	for _, s := range ps.Input.Scopes {
		accessToken = accessToken.WithScope(s)
	}
	return stateJSON, accessToken, nil, nil
}

// RefreshFromJSON exchanges the refresh token for a new access token,
// matching RefreshToken's grant_type=refresh_token path via
// golang.org/x/oauth2's TokenSource instead of a hand-rolled POST.
func (f *Factory) RefreshFromJSON(ctx *credential.Context, stateJSON []byte) ([]byte, *credential.AccessToken, error) {
	st, err := state.UnmarshalOAuth2State(stateJSON)
	if err != nil {
		return nil, nil, credential.Wrap(credential.KindStorageCorruption, "refresh", err)
	}
	defer st.Close()

	if st.RefreshToken.IsEmpty() {
		return nil, nil, credential.New(credential.KindUnsupported, "refresh", "no refresh_token on record")
	}

	cfg := &xoauth2.Config{
		ClientID:     st.ClientID,
		ClientSecret: st.ClientSecret.Expose(),
		Endpoint:     xoauth2.Endpoint{AuthURL: st.AuthURL, TokenURL: st.TokenURL},
	}
	src := cfg.TokenSource(ctx.Ctx, &xoauth2.Token{RefreshToken: st.RefreshToken.Expose()})
	tok, err := src.Token()
	if err != nil {
		return nil, nil, credential.Wrap(credential.KindAuthenticationFailed, "refresh", err)
	}

	newState := &state.OAuth2State{
		AccessToken:  secure.New(tok.AccessToken),
		RefreshToken: secure.New(firstNonEmpty(tok.RefreshToken, st.RefreshToken.Expose())),
		ExpiresAt:    tok.Expiry,
		Scopes:       st.Scopes,
		ClientID:     st.ClientID,
		ClientSecret: secure.New(st.ClientSecret.Expose()),
		AuthURL:      st.AuthURL,
		TokenURL:     st.TokenURL,
		RedirectURL:  st.RedirectURL,
	}
	newStateJSON, err := newState.MarshalForStorage()
	newState.Close()
	if err != nil {
		return nil, nil, credential.Wrap(credential.KindValidationFailed, "refresh", err)
	}

	accessToken := credential.Bearer(tok.AccessToken).WithExpiration(tok.Expiry)
	for _, s := range st.Scopes {
		accessToken = accessToken.WithScope(s)
	}
	return newStateJSON, accessToken, nil
}

// RevokeFromJSON wipes the in-memory secrets; OAuth2 token revocation at
// the authorization server is out of scope here since it requires a
// provider-specific revocation endpoint the generic state does not carry.
func (f *Factory) RevokeFromJSON(_ *credential.Context, stateJSON []byte) ([]byte, error) {
	st, err := state.UnmarshalOAuth2State(stateJSON)
	if err != nil {
		return nil, credential.Wrap(credential.KindStorageCorruption, "revoke", err)
	}
	st.Close()
	return stateJSON, nil
}

func (f *Factory) ValidateFromJSON(_ *credential.Context, stateJSON []byte) (bool, error) {
	st, err := state.UnmarshalOAuth2State(stateJSON)
	if err != nil {
		return false, credential.Wrap(credential.KindStorageCorruption, "validate", err)
	}
	defer st.Close()
	return !st.AccessToken.IsEmpty(), nil
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oauth2: generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func pkceChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ credential.Factory = (*Factory)(nil)
