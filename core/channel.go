// Package core implements the power model channel: the accounting engine
// that simulated modules report energy events and power states to.
//
// Modules register named events and states during elaboration and receive
// dense integer IDs. While the simulation runs they report event occurrences
// and state changes; consumers pop the accumulated dynamic energy and read
// the static current. Optionally the channel writes CSV logs of event counts,
// module states and averaged static/dynamic power.
//
// A channel is driven by a single logical thread of control (the simulation
// kernel) and is not safe for concurrent use.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/powermodel-sim/internal/logging"
	"github.com/signalsfoundry/powermodel-sim/internal/sim"
)

const (
	// DisabledLogDir as Config.LogDir turns off all file output.
	DisabledLogDir = "none"

	// logDumpThreshold is the number of buffered log rows kept in memory
	// before they are written out.
	logDumpThreshold = 2
	// averagingFactor is the number of consecutive power samples averaged
	// into one power log row.
	averagingFactor = 3

	tracerName = "github.com/signalsfoundry/powermodel-sim/core"
)

// Kernel is the simulation kernel a channel is bound to. *sim.Kernel
// implements it.
type Kernel interface {
	Now() time.Duration
	Running() bool
	After(d time.Duration, f func()) string
	OnStart(fn func())
	NewEvent(name string) *sim.Event
}

// Config holds the construction parameters of a channel.
type Config struct {
	// Name prefixes the log file names.
	Name string
	// LogDir is the directory the CSV logs are written to. DisabledLogDir
	// disables file output.
	LogDir string
	// LogInterval is the simulated time between event/state log rows. Zero
	// disables periodic logging.
	LogInterval time.Duration
}

// Option customises a Channel.
type Option func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Channel) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracerProvider sets the tracer provider used for flush spans. The
// global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Channel) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithSupplyVoltage sets the initial supply voltage without notification.
func WithSupplyVoltage(volts float64) Option {
	return func(c *Channel) { c.initialVolts = volts }
}

// Channel is a power model channel.
type Channel struct {
	name    string
	kernel  Kernel
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	// Registry
	moduleNames []string
	moduleIndex map[string]ModuleID
	events      []eventEntry
	states      []stateEntry

	// Accounting
	pending      []uint64  // per event, since the last pop
	current      []StateID // per module
	voltage      *VoltageDomain
	initialVolts float64

	// Logging
	interval       time.Duration
	files          *logFiles // nil when file output is disabled
	started        bool
	closed         bool
	intervalCounts []uint64      // per event, in the in-progress log interval
	rowEnd         time.Duration // trailing timestamp of the in-progress rows
	eventRows      []eventRow
	stateRows      []stateRow
	staticSamples  []powerSample
	dynamicSamples []powerSample
	err            error
}

// NewChannel creates a channel bound to kernel. Unless file output is
// disabled, the log directory is created and the four CSV files are
// truncated; failure to do so is returned wrapping ErrLogStorage.
func NewChannel(kernel Kernel, cfg Config, opts ...Option) (*Channel, error) {
	if kernel == nil {
		return nil, fmt.Errorf("kernel is nil")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("channel name is empty")
	}
	if cfg.LogInterval < 0 {
		return nil, fmt.Errorf("channel %q: negative log interval %s", cfg.Name, cfg.LogInterval)
	}

	c := &Channel{
		name:        cfg.Name,
		kernel:      kernel,
		log:         logging.Noop(),
		metrics:     noopMetrics{},
		tracer:      otel.Tracer(tracerName),
		moduleIndex: make(map[string]ModuleID),
		interval:    cfg.LogInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logging.String("channel", c.name))
	c.voltage = newVoltageDomain(c.initialVolts, kernel.NewEvent(c.name+".supplyVoltageChanged"))

	if cfg.LogDir != DisabledLogDir {
		files, err := createLogFiles(cfg.LogDir, c.name)
		if err != nil {
			return nil, err
		}
		c.files = files
		c.log.Info(context.Background(), "power logs enabled",
			logging.String("dir", cfg.LogDir),
			logging.Duration("interval", cfg.LogInterval),
		)
	}

	if kernel.Running() {
		c.start()
	} else {
		kernel.OnStart(c.start)
	}
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// start runs when the simulation enters its run phase. It opens the first
// log rows and launches the periodic logger.
func (c *Channel) start() {
	if c.started {
		return
	}
	c.started = true
	c.rowEnd = c.interval
	c.logRegistry()

	if c.files == nil || c.interval == 0 {
		c.log.Info(context.Background(), "periodic logging disabled")
		return
	}
	c.kernel.After(c.interval, c.logTick)
}

// Close flushes every buffered log row, including the partially filled rows
// of the in-progress interval, and returns the first storage error the
// channel encountered. Further calls only return that error. With a zero log
// interval the in-progress row spans the whole run.
func (c *Channel) Close() error {
	if c.closed {
		return c.err
	}
	c.closed = true

	events, states := c.eventRows, c.stateRows
	if c.started && c.files != nil {
		events = append(events, eventRow{counts: c.intervalCounts, end: c.rowEnd})
		states = append(states, stateRow{states: append([]StateID(nil), c.current...), end: c.rowEnd})
	}
	c.flushEventLog(events)
	c.flushStateLog(states)
	c.flushStaticPowerLog(c.staticSamples)
	c.flushEventPowerLog(c.dynamicSamples)
	c.eventRows, c.stateRows, c.staticSamples, c.dynamicSamples = nil, nil, nil, nil
	return c.err
}

// Err returns the first storage error encountered so far.
func (c *Channel) Err() error { return c.err }

func (c *Channel) logRegistry() {
	ctx := context.Background()
	c.log.Info(ctx, "registered power model events and states",
		logging.Int("modules", len(c.moduleNames)),
		logging.Int("events", len(c.events)),
		logging.Int("states", len(c.states)),
	)
	for mid, name := range c.moduleNames {
		var entries []string
		for _, e := range c.events {
			if int(e.module) == mid {
				entries = append(entries, describe(e.model, "event", e.model.Name()))
			}
		}
		for _, s := range c.states {
			if int(s.module) == mid {
				entries = append(entries, describe(s.model, "state", s.model.Name()))
			}
		}
		c.log.Info(ctx, "module", logging.String("module", name), logging.String("models", strings.Join(entries, "; ")))
	}
}

func describe(m any, kind, name string) string {
	if s, ok := m.(fmt.Stringer); ok {
		return s.String()
	}
	return "<" + kind + "> " + name
}
