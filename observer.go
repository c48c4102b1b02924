package secretauth

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Outcomes reported to an Observer
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeError    = "error"
	OutcomeConflict = "conflict"
)

// Session events reported to an Observer
const (
	SessionIssued  = "issued"
	SessionRevoked = "revoked"
	SessionStale   = "stale"
)

// Observer receives authentication and session outcomes, e.g. for metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveAuth(method, outcome string)
	ObserveSession(event string)
}

type nopObserver struct{}

func (nopObserver) ObserveAuth(string, string) {}
func (nopObserver) ObserveSession(string)      {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

func tracer() trace.Tracer {
	return otel.Tracer("github.com/panyam/secretauth")
}
