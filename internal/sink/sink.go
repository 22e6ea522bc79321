// Package sink defines the pluggable consumer contract the dispatcher
// drives: activate/apply-configuration/handle/on-timer/deactivate, plus
// the descriptor and factory-registry types reconfiguration uses to turn
// configuration into running sinks.
package sink

import (
	"time"

	"github.com/loomhq/actlog/pkg/entry"
)

// Monitor is the worker's own private producer client, handed to every
// sink call so a sink may emit self-diagnostic entries. Those entries
// re-enter the dispatcher queue like any other producer's.
type Monitor interface {
	Line(level entry.Value, text string, tags ...string)
}

// Descriptor is an opaque sink configuration object. Kind identifies
// which factory builds a runtime Sink from it; Descriptors are compared
// for reconfiguration purposes only via Sink.ApplyConfiguration, never by
// deep equality here.
type Descriptor interface {
	Kind() string
}

// Sink is the runtime consumer of dispatched entries. The dispatcher
// owns every Sink instance exclusively once Activate returns true;
// producers never call these methods directly.
type Sink interface {
	// Activate prepares the sink to receive entries. A false return (with
	// a nil error) means "do not add me" — not every rejection is a
	// fault. A non-nil error is treated as a sink-fault and quarantines
	// the sink before it is ever added.
	Activate(mon Monitor) (bool, error)

	// ApplyConfiguration reports whether desc was absorbed in place. A
	// sink that returns false must leave its own state unchanged — the
	// caller will deactivate it and try a freshly constructed
	// replacement instead.
	ApplyConfiguration(desc Descriptor) (bool, error)

	// Handle consumes one entry. Implementations must not block the
	// worker indefinitely; buffering internally is fine, an
	// unboundedly slow call is not.
	Handle(mon Monitor, e *entry.Multicast) error

	// OnTimer is the periodic flush/rotate hook, invoked at the
	// dispatcher's configured timer period.
	OnTimer(mon Monitor, period time.Duration) error

	// Deactivate releases any resources the sink holds. Called on
	// reconciliation replacement, on normal dispatcher shutdown, and
	// best-effort on force-close.
	Deactivate(mon Monitor) error

	// Name identifies this sink instance for logging and metrics.
	Name() string
}

// Factory builds a Sink from a Descriptor of the kind it is registered
// for.
type Factory func(desc Descriptor) (Sink, error)

// Registry is an explicit, closed mapping from descriptor kind to
// factory — the re-architected replacement for the reflective dynamic
// handler factory a garbage-collected host would use.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds kind to factory. Re-registering a kind overwrites the
// previous binding; callers normally register once at startup.
func (r *Registry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

// Build constructs a Sink for desc via its kind's registered factory.
func (r *Registry) Build(desc Descriptor) (Sink, error) {
	factory, ok := r.factories[desc.Kind()]
	if !ok {
		return nil, &UnknownKindError{Kind: desc.Kind()}
	}
	return factory(desc)
}

// UnknownKindError reports a descriptor whose kind has no registered
// factory.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return "sink: no factory registered for kind " + e.Kind
}
