// Package state defines the concrete CredentialState variants the manager
// ships with: a per-credential-type sum type with a stable Kind tag and a
// Version integer.
package state

import (
	"encoding/json"
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential/secure"
)

// State is the common contract every concrete credential state implements.
// Secret fields are held in secure.String; non-secret fields are plain.
type State interface {
	Kind() string
	StateVersion() int
	// MarshalForStorage serializes the state, including secret fields in
	// the clear, for the manager to encrypt before handing to a StateStore.
	// This is deliberately distinct from json.Marshal/fmt rendering so that
	// an accidental log of a State value never leaks secrets.
	MarshalForStorage() ([]byte, error)
	Close()
}

// ApiKeyState is the state behind a static API key credential. Grounded on
// pkg/auth/apikey.go's APIKeyManagerImpl, which holds a header name and raw
// key string per provider.
type ApiKeyState struct {
	Key        *secure.String
	HeaderName string
}

const ApiKeyKind = "api_key"
const ApiKeyVersion = 1

func (s *ApiKeyState) Kind() string      { return ApiKeyKind }
func (s *ApiKeyState) StateVersion() int { return ApiKeyVersion }
func (s *ApiKeyState) Close()            { s.Key.Close() }

type apiKeyDTO struct {
	Key        string `json:"key"`
	HeaderName string `json:"header_name"`
}

func (s *ApiKeyState) MarshalForStorage() ([]byte, error) {
	return json.Marshal(apiKeyDTO{Key: s.Key.Expose(), HeaderName: s.HeaderName})
}

// UnmarshalApiKeyState decodes the storage form produced by MarshalForStorage.
func UnmarshalApiKeyState(data []byte) (*ApiKeyState, error) {
	var dto apiKeyDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	return &ApiKeyState{Key: secure.New(dto.Key), HeaderName: dto.HeaderName}, nil
}

// OAuth2State is the state behind an OAuth2 authorization-code/refresh-token
// credential. Grounded on pkg/auth/oauth.go's OAuthAuthenticatorImpl and
// pkg/oauthmanager's OAuthCredentialSet, merged into one record and
// extended with an optional PKCEVerifier that MarshalForStorage serializes
// when set. credtypes/oauth2 does not set it: that factory carries its
// verifier in the NeedsInteraction partial state instead.
type OAuth2State struct {
	AccessToken  *secure.String
	RefreshToken *secure.String
	ExpiresAt    time.Time
	Scopes       []string
	ClientID     string
	ClientSecret *secure.String
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	PKCEVerifier *secure.String
}

const OAuth2Kind = "oauth2"
const OAuth2Version = 1

func (s *OAuth2State) Kind() string      { return OAuth2Kind }
func (s *OAuth2State) StateVersion() int { return OAuth2Version }
func (s *OAuth2State) Close() {
	s.AccessToken.Close()
	s.RefreshToken.Close()
	s.ClientSecret.Close()
	if s.PKCEVerifier != nil {
		s.PKCEVerifier.Close()
	}
}

type oauth2DTO struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	AuthURL      string    `json:"auth_url,omitempty"`
	TokenURL     string    `json:"token_url,omitempty"`
	RedirectURL  string    `json:"redirect_url,omitempty"`
	PKCEVerifier string    `json:"pkce_verifier,omitempty"`
}

func (s *OAuth2State) MarshalForStorage() ([]byte, error) {
	dto := oauth2DTO{
		AccessToken:  s.AccessToken.Expose(),
		RefreshToken: s.RefreshToken.Expose(),
		ExpiresAt:    s.ExpiresAt,
		Scopes:       s.Scopes,
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret.Expose(),
		AuthURL:      s.AuthURL,
		TokenURL:     s.TokenURL,
		RedirectURL:  s.RedirectURL,
	}
	if s.PKCEVerifier != nil {
		dto.PKCEVerifier = s.PKCEVerifier.Expose()
	}
	return json.Marshal(dto)
}

// UnmarshalOAuth2State decodes the storage form produced by MarshalForStorage.
func UnmarshalOAuth2State(data []byte) (*OAuth2State, error) {
	var dto oauth2DTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	s := &OAuth2State{
		AccessToken:  secure.New(dto.AccessToken),
		RefreshToken: secure.New(dto.RefreshToken),
		ExpiresAt:    dto.ExpiresAt,
		Scopes:       dto.Scopes,
		ClientID:     dto.ClientID,
		ClientSecret: secure.New(dto.ClientSecret),
		AuthURL:      dto.AuthURL,
		TokenURL:     dto.TokenURL,
		RedirectURL:  dto.RedirectURL,
	}
	if dto.PKCEVerifier != "" {
		s.PKCEVerifier = secure.New(dto.PKCEVerifier)
	}
	return s, nil
}

// BasicAuthState is the state behind a username/password credential.
// Modeled after ApiKeyState's shape; pkg/auth has no direct basic-auth
// credential type to ground this on.
type BasicAuthState struct {
	Username string
	Password *secure.String
}

const BasicAuthKind = "basic_auth"
const BasicAuthVersion = 1

func (s *BasicAuthState) Kind() string      { return BasicAuthKind }
func (s *BasicAuthState) StateVersion() int { return BasicAuthVersion }
func (s *BasicAuthState) Close()            { s.Password.Close() }

type basicAuthDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *BasicAuthState) MarshalForStorage() ([]byte, error) {
	return json.Marshal(basicAuthDTO{Username: s.Username, Password: s.Password.Expose()})
}

// UnmarshalBasicAuthState decodes the storage form produced by MarshalForStorage.
func UnmarshalBasicAuthState(data []byte) (*BasicAuthState, error) {
	var dto basicAuthDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	return &BasicAuthState{Username: dto.Username, Password: secure.New(dto.Password)}, nil
}
