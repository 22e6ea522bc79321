package dispatcher

import (
	"time"

	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/pkg/entry"
)

// Config is one reconfiguration batch, matching the enumerated options in
// the configuration surface: timer periods, the two filter thresholds,
// and the ordered handler set.
type Config struct {
	TimerDuration          time.Duration
	ExternalTimerDuration  time.Duration
	MinimalFilter entry.GroupFilter

	// ExternalLogLevelFilter thresholds the contextless log path. Nil
	// means "none": the external path falls back to its own
	// process-wide default rather than gating on a caller-chosen value.
	ExternalLogLevelFilter *entry.Value

	Handlers []sink.Descriptor

	// InternalClone signals the dispatcher that this Config is already
	// privately owned and may be stored without a defensive copy. It has
	// no effect on the dispatcher's behavior beyond documenting intent;
	// Config here has no mutable shared state a copy would protect
	// against in the first place.
	InternalClone bool
}

// DefaultTimerDuration is the on-timer callback period used when a
// Config does not specify one.
const DefaultTimerDuration = 500 * time.Millisecond

// DefaultExternalTimerDuration drives dead-client GC absent an explicit
// override.
const DefaultExternalTimerDuration = 5 * time.Minute

// takePollInterval bounds how long a single queue take blocks, so the
// worker can interleave timer ticks even while idle.
const takePollInterval = 100 * time.Millisecond
