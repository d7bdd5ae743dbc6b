package credential

import (
	"context"
	"net/http"
	"time"

	"github.com/cecil-the-coder/credential-kit/pkg/credential/log"
)

// Context is threaded through every Credential operation. Grounded on
// pkg/auth/manager.go's Logger field and pkg/auth/oauth.go's httpClient/
// timeout fields, generalized into one capability bundle.
type Context struct {
	// Ctx carries cancellation; every operation takes an implicit
	// cancellation signal.
	Ctx context.Context
	// Now returns the current time; overridable in tests. Defaults to time.Now.
	Now func() time.Time
	// HTTPClient is used by credential types that need to call an
	// authorization server (e.g. the OAuth2 token endpoint).
	HTTPClient *http.Client
	Logger     log.Logger
	Metrics    MetricsSink

	// WaitBudget overrides ManagerConfig.LockWaitBudget for this call only,
	// letting an individual caller accept a shorter or longer Timeout window
	// than the manager's configured default (e.g. a caller that would rather
	// fail fast than queue behind a long-held lock). It applies to GetToken
	// and RefreshCredential; ValidateCredential, RevokeCredential and
	// DeleteCredential always wait up to ManagerConfig.LockWaitBudget.
	WaitBudget time.Duration
}

// clock returns ctx.Now if set, else time.Now.
func (c *Context) clock() time.Time {
	if c == nil || c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// waitBudget returns c.WaitBudget if set, else fallback.
func (c *Context) waitBudget(fallback time.Duration) time.Duration {
	if c == nil || c.WaitBudget <= 0 {
		return fallback
	}
	return c.WaitBudget
}

// logger returns ctx.Logger if set, else a no-op logger.
func (c *Context) logger() log.Logger {
	if c == nil || c.Logger == nil {
		return log.NoOp{}
	}
	return c.Logger
}

// MetricsSink is the observability extension point hooks/audit/metrics
// surfaces publish through. Grounded on pkg/oauthmanager/metrics.go's
// counters, generalized to an interface so the manager has no concrete
// metrics-backend dependency.
type MetricsSink interface {
	IncrCounter(name string, tags map[string]string)
	ObserveDuration(name string, d time.Duration, tags map[string]string)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) IncrCounter(string, map[string]string)            {}
func (NoOpMetrics) ObserveDuration(string, time.Duration, map[string]string) {}

var _ MetricsSink = NoOpMetrics{}

// StepKind tags the variant of an interactive-initialization Step.
type StepKind string

const (
	StepRedirect  StepKind = "redirect"
	StepEnterCode StepKind = "enter_code"
	StepPoll      StepKind = "poll"
)

// Step describes how the caller must complete an interactive initialization,
// per a Credential's NeedsInteraction outcome.
type Step struct {
	Kind StepKind

	// Redirect
	URL   string
	State string

	// EnterCode
	Prompt string

	// Poll
	Endpoint string
	Interval time.Duration
	Expiry   time.Time
}

// Interaction is the structured, non-error outcome returned when a
// Credential's initialize cannot complete synchronously.
type Interaction struct {
	ContinuationID string
	PartialState   []byte
	Step           Step
}
