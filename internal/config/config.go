// Package config loads the powersim configuration from YAML and lets
// command-line flags override it.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/powermodel-sim/timectrl"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	Channel struct {
		Name        string        `yaml:"name"`
		LogDir      string        `yaml:"logDir"`
		LogInterval time.Duration `yaml:"logInterval"`
	}

	Simulation struct {
		Duration       time.Duration `yaml:"duration"`
		Mode           string        `yaml:"mode"`
		Tick           time.Duration `yaml:"tick"`
		SupplyVoltage  float64       `yaml:"supplyVoltage"`
		BridgeTimestep time.Duration `yaml:"bridgeTimestep"`
		CurrentTrace   string        `yaml:"currentTrace"`
	}

	Catalog struct {
		Path string `yaml:"path"`
	}

	Metrics struct {
		Addr string `yaml:"addr"`
	}

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		Exporter    string  `yaml:"exporter"`
		Endpoint    string  `yaml:"endpoint"`
		SampleRatio float64 `yaml:"sampleRatio"`
		ServiceName string  `yaml:"serviceName"`
	}

	Config struct {
		Log        Log        `yaml:"log"`
		Channel    Channel    `yaml:"channel"`
		Simulation Simulation `yaml:"simulation"`
		Catalog    Catalog    `yaml:"catalog"`
		Metrics    Metrics    `yaml:"metrics"`
		Tracing    Tracing    `yaml:"tracing"`
	}
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	ChannelNameFlag        = "channel.name"
	ChannelLogDirFlag      = "channel.log-dir"
	ChannelLogIntervalFlag = "channel.log-interval"

	SimDurationFlag       = "simulation.duration"
	SimModeFlag           = "simulation.mode"
	SimTickFlag           = "simulation.tick"
	SimSupplyVoltageFlag  = "simulation.supply-voltage"
	SimBridgeTimestepFlag = "simulation.bridge-timestep"
	SimCurrentTraceFlag   = "simulation.current-trace"

	CatalogPathFlag = "catalog.path"

	MetricsAddrFlag = "metrics.addr"

	TracingEnabledFlag  = "tracing.enabled"
	TracingExporterFlag = "tracing.exporter"
	TracingEndpointFlag = "tracing.endpoint"
)

// DisabledLogDir is the log directory value that turns off file output.
const DisabledLogDir = "none"

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Channel: Channel{
			Name:        "power",
			LogDir:      "power_logs",
			LogInterval: time.Microsecond,
		},
		Simulation: Simulation{
			Duration:       time.Millisecond,
			Mode:           "accelerated",
			Tick:           time.Microsecond,
			SupplyVoltage:  0.8,
			BridgeTimestep: time.Microsecond,
		},
		Tracing: Tracing{
			Exporter:    "stdout",
			SampleRatio: 1.0,
			ServiceName: "powersim",
		},
	}

	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	defaults := DefaultConfig()

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// Channel
	channelName := app.Flag(ChannelNameFlag, "Power model channel name, prefixes the log files").Default(defaults.Channel.Name).String()
	logDir := app.Flag(ChannelLogDirFlag, "Directory for the CSV power logs, or \"none\" to disable them").Default(defaults.Channel.LogDir).String()
	logInterval := app.Flag(ChannelLogIntervalFlag, "Simulated time between event/state log rows; 0 disables periodic logging").Default(defaults.Channel.LogInterval.String()).Duration()

	// Simulation
	duration := app.Flag(SimDurationFlag, "Simulated time to run").Default(defaults.Simulation.Duration.String()).Duration()
	mode := app.Flag(SimModeFlag, "Run mode: accelerated or realtime").Default(defaults.Simulation.Mode).Enum("accelerated", "realtime")
	tick := app.Flag(SimTickFlag, "Simulated time advanced per controller tick").Default(defaults.Simulation.Tick.String()).Duration()
	supplyVoltage := app.Flag(SimSupplyVoltageFlag, "Supply voltage in volts").Default(fmt.Sprint(defaults.Simulation.SupplyVoltage)).Float64()
	bridgeTimestep := app.Flag(SimBridgeTimestepFlag, "Simulated time between bridge samples").Default(defaults.Simulation.BridgeTimestep.String()).Duration()
	currentTrace := app.Flag(SimCurrentTraceFlag, "CSV file receiving the bridge supply current trace; empty disables").Default("").String()

	// Catalog
	catalogPath := app.Flag(CatalogPathFlag, "Power model catalog CSV; empty uses the built-in catalog").Default("").String()

	// Metrics
	metricsAddr := app.Flag(MetricsAddrFlag, "Address to serve Prometheus metrics on; empty disables").Default("").String()

	// Tracing
	tracingEnabled := app.Flag(TracingEnabledFlag, "Enable OpenTelemetry tracing").Default("false").Bool()
	tracingExporter := app.Flag(TracingExporterFlag, "Tracing exporter: stdout or otlp").Default(defaults.Tracing.Exporter).Enum("stdout", "otlp")
	tracingEndpoint := app.Flag(TracingEndpointFlag, "OTLP gRPC endpoint").Default("").String()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		// Channel settings
		if flagsSet[ChannelNameFlag] {
			cfg.Channel.Name = *channelName
		}
		if flagsSet[ChannelLogDirFlag] {
			cfg.Channel.LogDir = *logDir
		}
		if flagsSet[ChannelLogIntervalFlag] {
			cfg.Channel.LogInterval = *logInterval
		}

		// Simulation settings
		if flagsSet[SimDurationFlag] {
			cfg.Simulation.Duration = *duration
		}
		if flagsSet[SimModeFlag] {
			cfg.Simulation.Mode = *mode
		}
		if flagsSet[SimTickFlag] {
			cfg.Simulation.Tick = *tick
		}
		if flagsSet[SimSupplyVoltageFlag] {
			cfg.Simulation.SupplyVoltage = *supplyVoltage
		}
		if flagsSet[SimBridgeTimestepFlag] {
			cfg.Simulation.BridgeTimestep = *bridgeTimestep
		}
		if flagsSet[SimCurrentTraceFlag] {
			cfg.Simulation.CurrentTrace = *currentTrace
		}

		if flagsSet[CatalogPathFlag] {
			cfg.Catalog.Path = *catalogPath
		}
		if flagsSet[MetricsAddrFlag] {
			cfg.Metrics.Addr = *metricsAddr
		}

		// Tracing settings
		if flagsSet[TracingEnabledFlag] {
			cfg.Tracing.Enabled = *tracingEnabled
		}
		if flagsSet[TracingExporterFlag] {
			cfg.Tracing.Exporter = *tracingExporter
		}
		if flagsSet[TracingEndpointFlag] {
			cfg.Tracing.Endpoint = *tracingEndpoint
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Channel.Name = strings.TrimSpace(c.Channel.Name)
	c.Channel.LogDir = strings.TrimSpace(c.Channel.LogDir)
	c.Simulation.Mode = strings.ToLower(strings.TrimSpace(c.Simulation.Mode))
	c.Simulation.CurrentTrace = strings.TrimSpace(c.Simulation.CurrentTrace)
	c.Catalog.Path = strings.TrimSpace(c.Catalog.Path)
	c.Metrics.Addr = strings.TrimSpace(c.Metrics.Addr)
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // channel
		if c.Channel.Name == "" {
			errs = append(errs, "channel name is empty")
		}
		if c.Channel.LogDir == "" {
			errs = append(errs, fmt.Sprintf("channel log directory is empty; use %q to disable logging", DisabledLogDir))
		}
		if c.Channel.LogInterval < 0 {
			errs = append(errs, fmt.Sprintf("invalid channel log interval: %s", c.Channel.LogInterval))
		}
	}
	{ // simulation
		if c.Simulation.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("invalid simulation duration: %s", c.Simulation.Duration))
		}
		if _, ok := timectrl.ParseMode(c.Simulation.Mode); !ok {
			errs = append(errs, fmt.Sprintf("invalid simulation mode: %s", c.Simulation.Mode))
		}
		if c.Simulation.Tick <= 0 {
			errs = append(errs, fmt.Sprintf("invalid simulation tick: %s", c.Simulation.Tick))
		}
		if c.Simulation.SupplyVoltage < 0 {
			errs = append(errs, fmt.Sprintf("invalid supply voltage: %g", c.Simulation.SupplyVoltage))
		}
		if c.Simulation.BridgeTimestep <= 0 {
			errs = append(errs, fmt.Sprintf("invalid bridge timestep: %s", c.Simulation.BridgeTimestep))
		}
	}
	{ // tracing
		if c.Tracing.Enabled {
			if c.Tracing.Exporter != "stdout" && c.Tracing.Exporter != "otlp" {
				errs = append(errs, fmt.Sprintf("invalid tracing exporter: %s", c.Tracing.Exporter))
			}
			if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
				errs = append(errs, fmt.Sprintf("invalid tracing sample ratio: %g", c.Tracing.SampleRatio))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

// LoggingDisabled reports whether the channel writes no log files.
func (c *Config) LoggingDisabled() bool {
	return c.Channel.LogDir == DisabledLogDir
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{ChannelNameFlag, c.Channel.Name},
		{ChannelLogDirFlag, c.Channel.LogDir},
		{ChannelLogIntervalFlag, c.Channel.LogInterval.String()},
		{SimDurationFlag, c.Simulation.Duration.String()},
		{SimModeFlag, c.Simulation.Mode},
		{SimTickFlag, c.Simulation.Tick.String()},
		{SimSupplyVoltageFlag, fmt.Sprint(c.Simulation.SupplyVoltage)},
		{SimBridgeTimestepFlag, c.Simulation.BridgeTimestep.String()},
		{SimCurrentTraceFlag, c.Simulation.CurrentTrace},
		{CatalogPathFlag, c.Catalog.Path},
		{MetricsAddrFlag, c.Metrics.Addr},
		{TracingEnabledFlag, fmt.Sprint(c.Tracing.Enabled)},
		{TracingExporterFlag, c.Tracing.Exporter},
		{TracingEndpointFlag, c.Tracing.Endpoint},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
