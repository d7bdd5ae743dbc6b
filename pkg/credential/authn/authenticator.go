// Package authn provides the Authenticator capability that attaches
// credential material to outbound requests.
//
// Grounded on pkg/auth/interface.go's Authenticator interface, generalized
// from "AI-provider HTTP request" to an abstract outbound-request mutator
// via a type parameter, so this package carries no dependency on any
// specific provider's request type.
package authn

import (
	"github.com/cecil-the-coder/credential-kit/pkg/credential"
)

// Authenticator mutates req to carry the given token (e.g. set an
// Authorization header, attach a signature). The manager is oblivious to
// the request type; authenticators are consumed by client code only.
type Authenticator[R any] interface {
	Apply(token *credential.AccessToken, req R) error
}

// Func adapts a plain function to Authenticator.
type Func[R any] func(token *credential.AccessToken, req R) error

func (f Func[R]) Apply(token *credential.AccessToken, req R) error {
	return f(token, req)
}

// Chain composes a non-empty sequence of authenticators, applied in order.
// It short-circuits on the first error, matching the repository's general
// wrap-and-return error idiom (no panics).
type Chain[R any] struct {
	steps []Authenticator[R]
}

// NewChain builds a Chain from one or more authenticators. Panics if given
// zero steps, since an empty chain is not a meaningful capability.
func NewChain[R any](steps ...Authenticator[R]) *Chain[R] {
	if len(steps) == 0 {
		panic("authn: NewChain requires at least one Authenticator")
	}
	return &Chain[R]{steps: steps}
}

func (c *Chain[R]) Apply(token *credential.AccessToken, req R) error {
	for _, step := range c.steps {
		if err := step.Apply(token, req); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ Authenticator[any] = Func[any](nil)
	_ Authenticator[any] = (*Chain[any])(nil)
)
