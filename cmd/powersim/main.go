package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/powermodel-sim/core"
	"github.com/signalsfoundry/powermodel-sim/internal/bridge"
	"github.com/signalsfoundry/powermodel-sim/internal/config"
	"github.com/signalsfoundry/powermodel-sim/internal/device"
	"github.com/signalsfoundry/powermodel-sim/internal/logging"
	"github.com/signalsfoundry/powermodel-sim/internal/observability"
	"github.com/signalsfoundry/powermodel-sim/internal/sim"
	"github.com/signalsfoundry/powermodel-sim/kb"
	"github.com/signalsfoundry/powermodel-sim/timectrl"
)

func main() {
	app := kingpin.New("powersim", "Power model simulation of a memory device.")
	configFile := app.Flag("config.file", "Path to a YAML config file").Default("").String()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := loadConfig(*configFile, updateConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := run(ctx, cfg, log, prometheus.NewRegistry()); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

func loadConfig(path string, update config.ConfigUpdaterFn) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.FromFile(path); err != nil {
			return nil, err
		}
	}
	if err := update(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// summary describes a finished run.
type summary struct {
	SimTime       time.Duration
	MemoryCycles  int
	BridgeSteps   int
	DynamicEnergy float64
	TotalEnergy   float64
	LastCurrent   float64
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger, reg *prometheus.Registry) (*summary, error) {
	log.Debug(ctx, "configuration", logging.String("config", cfg.String()))

	catalog, err := loadCatalog(ctx, cfg.Catalog.Path, log)
	if err != nil {
		return nil, err
	}

	channelMetrics, err := observability.NewChannelCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("init channel metrics: %w", err)
	}
	kernelMetrics, err := observability.NewKernelCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("init kernel metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, channelMetrics, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log,
		observability.WithChannelName(cfg.Channel.Name))
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	kernel := sim.NewKernel(sim.WithLogger(log), sim.WithMetrics(kernelMetrics))

	ch, err := core.NewChannel(kernel, core.Config{
		Name:        cfg.Channel.Name,
		LogDir:      cfg.Channel.LogDir,
		LogInterval: cfg.Channel.LogInterval,
	},
		core.WithLogger(log),
		core.WithMetrics(channelMetrics),
		core.WithSupplyVoltage(cfg.Simulation.SupplyVoltage),
	)
	if err != nil {
		return nil, err
	}

	memory, err := device.NewMemory("memory", kernel, ch, catalog, device.WithLogger(log))
	if err != nil {
		return nil, err
	}

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithVoltageSource(func() float64 { return cfg.Simulation.SupplyVoltage }),
	}
	var trace *bridge.TraceWriter
	if cfg.Simulation.CurrentTrace != "" {
		if trace, err = bridge.NewTraceWriter(cfg.Simulation.CurrentTrace); err != nil {
			return nil, err
		}
		bridgeOpts = append(bridgeOpts, bridge.WithSink(trace.Write))
	}
	br, err := bridge.New(kernel, ch, cfg.Simulation.BridgeTimestep, bridgeOpts...)
	if err != nil {
		return nil, err
	}

	kernel.OnEnd(func() {
		log.Info(ctx, "simulation ended", logging.Duration("sim_time", kernel.Now()))
	})

	runErr := advance(ctx, kernel, cfg.Simulation)
	kernel.Stop()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if trace != nil {
		if err := trace.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close current trace: %w", err))
		}
	}
	if err := memory.Err(); err != nil {
		errs = append(errs, err)
	}
	if err := br.Err(); err != nil {
		errs = append(errs, err)
	}

	s := &summary{
		SimTime:       kernel.Now(),
		MemoryCycles:  memory.Cycles(),
		BridgeSteps:   br.Steps(),
		DynamicEnergy: br.DynamicEnergy(),
		TotalEnergy:   br.TotalEnergy(),
		LastCurrent:   br.Current(),
	}
	log.Info(ctx, "simulation summary",
		logging.Duration("sim_time", s.SimTime),
		logging.Int("memory_cycles", s.MemoryCycles),
		logging.Int("bridge_steps", s.BridgeSteps),
		logging.Float("dynamic_energy_j", s.DynamicEnergy),
		logging.Float("total_energy_j", s.TotalEnergy),
		logging.Float("last_current_a", s.LastCurrent),
	)
	return s, errors.Join(errs...)
}

// advance drives the kernel to the configured duration, paced by a time
// controller. It returns early when ctx is cancelled.
func advance(ctx context.Context, kernel *sim.Kernel, cfg config.Simulation) error {
	mode, _ := timectrl.ParseMode(cfg.Mode)
	tc := timectrl.NewTimeController(cfg.Tick, mode)

	var runErr error
	tc.AddListener(func(now time.Duration) {
		if runErr != nil {
			return
		}
		runErr = kernel.RunUntil(now)
	})

	<-tc.StartContext(ctx, cfg.Duration)
	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

func loadCatalog(ctx context.Context, path string, log logging.Logger) (*kb.KnowledgeBase, error) {
	if path == "" {
		log.Info(ctx, "using built-in power model catalog")
		return kb.Default(), nil
	}
	catalog, err := kb.FromFile(path)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "loaded power model catalog",
		logging.String("path", path),
		logging.Int("modules", len(catalog.Modules())),
	)
	return catalog, nil
}

func serveMetrics(addr string, collector *observability.ChannelCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
