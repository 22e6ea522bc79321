// Package actlog is the library's public entry point: the process-level
// default dispatcher (spec: "ensure-active-default"/"dispose") and the
// producer-client factory built on top of it. Most applications only
// need this file; the internal/ packages are the machinery behind it.
package actlog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/loomhq/actlog/internal/client"
	"github.com/loomhq/actlog/internal/config"
	"github.com/loomhq/actlog/internal/dispatcher"
	"github.com/loomhq/actlog/internal/extlog"
	"github.com/loomhq/actlog/internal/faultlog"
	"github.com/loomhq/actlog/internal/logging"
	"github.com/loomhq/actlog/internal/metrics"
	"github.com/loomhq/actlog/internal/sink"
	"github.com/loomhq/actlog/internal/sinks"
	"github.com/loomhq/actlog/pkg/entry"
)

// ErrDisposed is returned by any operation against the default dispatcher
// after Dispose has reset the ambient slot to empty.
var ErrDisposed = errors.New("actlog: default dispatcher is disposed")

// Default is the ambient process-level dispatcher instance, together
// with the supporting pieces (producer registry, external log path,
// fault log) that only make sense scoped to one dispatcher.
type Default struct {
	Dispatcher *dispatcher.Dispatcher

	registry *client.Registry
	external *extlog.Path
	faultLog *faultlog.Log
}

var (
	defaultMu  sync.Mutex
	defaultRef *Default
)

// fanoutReporter re-emits a sink fault to every configured out-of-band
// receiver: the rotating fault log (if enabled) and the external-log
// critical-error echo. Either may be nil. Its fields are set once, right
// after the dispatcher and extlog.Path that need each other both exist —
// safe because ReportFault only ever runs from the dispatcher's own
// worker goroutine, which cannot observe the reporter before Start.
type fanoutReporter struct {
	faultLog *faultlog.Log
	external *extlog.Path
}

func (f *fanoutReporter) ReportFault(fault dispatcher.SinkFault) {
	if f.faultLog != nil {
		f.faultLog.ReportFault(fault)
	}
	if f.external != nil {
		f.external.ReportCriticalError(fault)
	}
}

// EnsureActiveDefault either creates the ambient default dispatcher from
// cfg, or — if one already exists — applies cfg to it as a
// reconfiguration. It never resurrects a disposed default: once Dispose
// has run, EnsureActiveDefault builds a brand new instance. tracer may be
// nil to disable span emission.
func EnsureActiveDefault(cfg *config.Config, tracer trace.Tracer) (*Default, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRef != nil {
		dc, err := cfg.ToDispatcherConfig()
		if err != nil {
			return nil, fmt.Errorf("actlog: applying configuration: %w", err)
		}
		defaultRef.Dispatcher.ApplyConfig(dc, true)
		return defaultRef, nil
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	registry := sink.NewRegistry()
	sinks.RegisterAll(registry)

	collector := metrics.GetGlobalCollector()

	var fl *faultlog.Log
	if cfg.FaultLog.Enabled {
		var err error
		fl, err = faultlog.Open(faultlog.Config{
			Dir:          cfg.FaultLog.Dir,
			SegmentSize:  cfg.FaultLog.SegmentSize,
			MaxSegments:  cfg.FaultLog.MaxSegments,
			SyncInterval: cfg.FaultLog.SyncInterval,
			Metrics:      collector,
		})
		if err != nil {
			return nil, fmt.Errorf("actlog: opening fault log: %w", err)
		}
	}

	reporter := &fanoutReporter{faultLog: fl}

	d := dispatcher.New(dispatcher.Options{
		Registry: registry,
		Logger:   logger,
		Reporter: reporter,
		Tracer:   tracer,
		Metrics:  collector,
	})

	ext := extlog.New(d, cfg.Dispatcher.CriticalErrorRate, cfg.Dispatcher.CriticalErrorBurst)
	reporter.external = ext

	clientRegistry := client.NewRegistry()
	d.SetExternalTickHandler(clientRegistry.Sweep)

	dc, err := cfg.ToDispatcherConfig()
	if err != nil {
		return nil, fmt.Errorf("actlog: building initial configuration: %w", err)
	}
	d.Start()
	d.ApplyConfig(dc, true)

	defaultRef = &Default{
		Dispatcher: d,
		registry:   clientRegistry,
		external:   ext,
		faultLog:   fl,
	}
	return defaultRef, nil
}

// ActiveDefault returns the current ambient default, or ErrDisposed if
// none has been established (or the previous one was disposed).
func ActiveDefault() (*Default, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRef == nil {
		return nil, ErrDisposed
	}
	return defaultRef, nil
}

// Dispose finalizes the ambient default dispatcher (draining within
// deadline, or force-closing past it) and resets the ambient slot to
// empty. Subsequent use must call EnsureActiveDefault again.
func Dispose(deadline time.Duration) error {
	defaultMu.Lock()
	d := defaultRef
	defaultRef = nil
	defaultMu.Unlock()

	if d == nil {
		return ErrDisposed
	}

	d.Dispatcher.Finalize(deadline)
	if d.faultLog != nil {
		return d.faultLog.Close()
	}
	return nil
}

// NewClient creates a new producer client attached to the ambient
// default dispatcher (spec: "ensure-grand-output-client"), auto-attaching
// it to the default's liveness registry. It returns ErrDisposed if no
// default is currently active.
func NewClient() (*client.Client, error) {
	d, err := ActiveDefault()
	if err != nil {
		return nil, err
	}
	return client.New(d.Dispatcher, d.registry), nil
}

// ExternalLog emits one entry through the ambient default's contextless
// external-log path (spec §6), for callers with no producer-client
// handle of their own.
func ExternalLog(lvl entry.Level, text string, tags ...string) error {
	d, err := ActiveDefault()
	if err != nil {
		return err
	}
	d.external.Log(lvl, text, tags...)
	return nil
}
