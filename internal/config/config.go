// Package config holds the settings shared by the otl commands.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/export"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/link"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
	"github.com/spf13/viper"
)

// Name is the config file base name and the directory under ~/.config.
const Name = "opentracelogic"

// EnvPrefix prefixes environment overrides, e.g. OTL_DEVICE_ADAPTER.
const EnvPrefix = "OTL"

// Config represents the complete OpenTraceLogic configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Capture CaptureConfig `mapstructure:"capture"`
	Analog  AnalogConfig  `mapstructure:"analog"`
	Export  ExportConfig  `mapstructure:"export"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig selects and tunes the link to the analyzer
type DeviceConfig struct {
	// Adapter is one of "usb", "tty", "sim"
	Adapter string `mapstructure:"adapter"`
	// Path is the serial device used by the tty adapter
	Path string `mapstructure:"path"`
	// MTU is the largest single write, 0 for the device default
	MTU int `mapstructure:"mtu"`
	// Grace is how long the link is drained after an abort
	Grace time.Duration `mapstructure:"grace"`
	// ReplyTimeout bounds each reply other than the wait for sampling
	ReplyTimeout time.Duration `mapstructure:"reply_timeout"`
	// SimInputs are the line patterns fed to the simulator, comma or space
	// separated, decimal or 0x hex
	SimInputs string `mapstructure:"sim_inputs"`
	// SimAnalog are the ADC readings fed to the simulator, one per
	// conversion; "trigger:second" pairs give the second channel a value
	SimAnalog string `mapstructure:"sim_analog"`
	// SimPeriod is the simulator input period in CPU ticks
	SimPeriod int `mapstructure:"sim_period"`
}

// CaptureConfig holds the digital capture parameters
type CaptureConfig struct {
	// Mode is one of "6.26MHz", "irregular", "uniform", "4MHz"
	Mode string `mapstructure:"mode"`
	// Duration limits sampling time, 0 = unlimited
	Duration time.Duration `mapstructure:"duration"`
	// MaxEvents limits the number of samples, 0 = unlimited
	MaxEvents int `mapstructure:"max_events"`
	// CodeBank is "ram" or "flash"
	CodeBank string `mapstructure:"code_bank"`
	Ganged   bool   `mapstructure:"ganged"`
	// Triggers is a trigger table file applied over the default table
	Triggers string `mapstructure:"triggers"`
}

// AnalogConfig holds the oscilloscope capture parameters
type AnalogConfig struct {
	// TriggerChannel is the ADC input, PA0...PA7, the trigger watches
	TriggerChannel int `mapstructure:"trigger_channel"`
	// SecondChannel is another ADC input or "none" for single channel
	// sampling
	SecondChannel string `mapstructure:"second_channel"`
	// Slope is "positive", "negative" or "disabled"
	Slope string `mapstructure:"slope"`
	// Level and Hysteresis are in the units ScaleLow and ScaleHigh map to
	// ADC 0 and full scale, volts by default
	Level      float64 `mapstructure:"level"`
	Hysteresis float64 `mapstructure:"hysteresis"`
	ScaleLow   float64 `mapstructure:"scale_low"`
	ScaleHigh  float64 `mapstructure:"scale_high"`
	// Hold is the sample and hold time in ADC cycles, e.g. "239.5"
	Hold string `mapstructure:"hold"`
	// Samples limits the readings over both channels, 0 = until memory
	// is full
	Samples int  `mapstructure:"samples"`
	Ganged  bool `mapstructure:"ganged"`
}

// ExportConfig controls how uploaded samples are written
type ExportConfig struct {
	// Format is one of "terminal", "csv", "vcd"
	Format string `mapstructure:"format"`
	// File is the destination, empty for standard output
	File string `mapstructure:"file"`
	// PerTick and Unit make the VCD timescale, e.g. 125 ns
	PerTick int    `mapstructure:"per_tick"`
	Unit    string `mapstructure:"unit"`
	// Lines are the digital lines exported, in column order; empty means all
	Lines []int `mapstructure:"lines"`
	// Names overrides channel names by line number
	Names []string `mapstructure:"names"`
	// PulseView adds the trailing edge PulseView needs to show the last level
	PulseView bool `mapstructure:"pulseview"`
}

// LoggingConfig controls diagnostic output
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File appends JSON logs there instead of text logs to stderr
	File string `mapstructure:"file"`
	JSON bool   `mapstructure:"json"`
}

// Default returns a configuration with all default values
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Adapter:      string(link.InterfaceKindUSB),
			Path:         link.DefaultTTY,
			MTU:          frame.DefaultMTU,
			Grace:        2 * time.Second,
			ReplyTimeout: 2 * time.Second,
			SimPeriod:    link.DefaultSimPeriod,
		},
		Capture: CaptureConfig{
			Mode:     frame.Mode6_26MHz.String(),
			CodeBank: frame.BankFlash.String(),
		},
		Analog: AnalogConfig{
			SecondChannel: "none",
			Slope:         frame.SlopePositive.String(),
			Level:         1.65,
			Hysteresis:    0.05,
			ScaleHigh:     3.3,
			Hold:          "239.5",
		},
		Export: ExportConfig{
			Format:  export.FormatTerminal.String(),
			PerTick: int(export.DefaultTimescale.PerTick),
			Unit:    export.DefaultTimescale.Unit.String(),
			Lines:   []int{},
			Names:   []string{},
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("device.adapter", defaults.Device.Adapter)
	viper.SetDefault("device.path", defaults.Device.Path)
	viper.SetDefault("device.mtu", defaults.Device.MTU)
	viper.SetDefault("device.grace", defaults.Device.Grace)
	viper.SetDefault("device.reply_timeout", defaults.Device.ReplyTimeout)
	viper.SetDefault("device.sim_inputs", defaults.Device.SimInputs)
	viper.SetDefault("device.sim_period", defaults.Device.SimPeriod)
	viper.SetDefault("device.sim_analog", defaults.Device.SimAnalog)

	viper.SetDefault("capture.mode", defaults.Capture.Mode)
	viper.SetDefault("capture.duration", defaults.Capture.Duration)
	viper.SetDefault("capture.max_events", defaults.Capture.MaxEvents)
	viper.SetDefault("capture.code_bank", defaults.Capture.CodeBank)
	viper.SetDefault("capture.ganged", defaults.Capture.Ganged)
	viper.SetDefault("capture.triggers", defaults.Capture.Triggers)

	viper.SetDefault("analog.trigger_channel", defaults.Analog.TriggerChannel)
	viper.SetDefault("analog.second_channel", defaults.Analog.SecondChannel)
	viper.SetDefault("analog.slope", defaults.Analog.Slope)
	viper.SetDefault("analog.level", defaults.Analog.Level)
	viper.SetDefault("analog.hysteresis", defaults.Analog.Hysteresis)
	viper.SetDefault("analog.scale_low", defaults.Analog.ScaleLow)
	viper.SetDefault("analog.scale_high", defaults.Analog.ScaleHigh)
	viper.SetDefault("analog.hold", defaults.Analog.Hold)
	viper.SetDefault("analog.samples", defaults.Analog.Samples)
	viper.SetDefault("analog.ganged", defaults.Analog.Ganged)

	viper.SetDefault("export.format", defaults.Export.Format)
	viper.SetDefault("export.file", defaults.Export.File)
	viper.SetDefault("export.per_tick", defaults.Export.PerTick)
	viper.SetDefault("export.unit", defaults.Export.Unit)
	viper.SetDefault("export.lines", defaults.Export.Lines)
	viper.SetDefault("export.names", defaults.Export.Names)
	viper.SetDefault("export.pulseview", defaults.Export.PulseView)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.json", defaults.Logging.JSON)
}

// Init points viper at the config file and environment. An explicit file
// replaces the search path.
func Init(file string) error {
	SetDefaults()
	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName(Name)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(Dir())
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: could not read %s: %w", viper.ConfigFileUsed(), err)
	}
	return nil
}

// Load unmarshals the current viper state and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Dir returns the directory searched for the config file
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, Name)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + Name
	}
	return filepath.Join(home, ".config", Name)
}

// File returns the default config file path
func File() string {
	return filepath.Join(Dir(), Name+".yaml")
}

// SimPatterns parses SimInputs.
func (d *DeviceConfig) SimPatterns() ([]uint8, error) {
	fields := strings.FieldsFunc(d.SimInputs, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	patterns := make([]uint8, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseUint(f, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("config: sim input %q is not a byte value", f)
		}
		patterns = append(patterns, uint8(v))
	}
	return patterns, nil
}

// SimReadings parses SimAnalog.
func (d *DeviceConfig) SimReadings() ([][2]uint16, error) {
	fields := strings.FieldsFunc(d.SimAnalog, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	readings := make([][2]uint16, 0, len(fields))
	for _, f := range fields {
		var r [2]uint16
		for i, v := range strings.SplitN(f, ":", 2) {
			n, err := strconv.ParseUint(v, 0, 16)
			if err != nil || n > frame.ADCMax {
				return nil, fmt.Errorf("config: sim analog reading %q is not a 12 bit value", f)
			}
			r[i] = uint16(n)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// Descriptor converts the capture settings to a device descriptor.
func (c *CaptureConfig) Descriptor() (frame.CaptureDescriptor, error) {
	mode, err := frame.ParseSamplingMode(c.Mode)
	if err != nil {
		return frame.CaptureDescriptor{}, err
	}
	bank, err := frame.ParseCodeBank(c.CodeBank)
	if err != nil {
		return frame.CaptureDescriptor{}, err
	}
	events := uint16(frame.UnlimitedEvents)
	if c.MaxEvents > 0 && c.MaxEvents < frame.UnlimitedEvents {
		events = uint16(c.MaxEvents)
	}
	return frame.CaptureDescriptor{
		Mode:      mode,
		Duration:  c.Duration,
		MaxEvents: events,
		CodeBank:  bank,
		Ganged:    c.Ganged,
	}, nil
}

// SecondChannelIndex returns the second ADC input or
// frame.NoSecondChannel.
func (a *AnalogConfig) SecondChannelIndex() (uint8, error) {
	if s := strings.TrimSpace(a.SecondChannel); s == "" || strings.EqualFold(s, "none") {
		return frame.NoSecondChannel, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(a.SecondChannel), 10, 8)
	if err != nil || n > frame.MaxADCChannel {
		return 0, fmt.Errorf("config: second channel %q is not none or 0...%d", a.SecondChannel, frame.MaxADCChannel)
	}
	return uint8(n), nil
}

// Counts converts v from scale units to ADC counts.
func (a *AnalogConfig) Counts(v float64) int {
	return int(math.Round(frame.ADCMax * v / (a.ScaleHigh - a.ScaleLow)))
}

// Descriptor converts the analog settings to a device descriptor. Level
// and hysteresis are scaled to ADC counts but not clamped.
func (a *AnalogConfig) Descriptor() (frame.AnalogDescriptor, error) {
	if a.ScaleHigh <= a.ScaleLow {
		return frame.AnalogDescriptor{}, fmt.Errorf("config: analog scale %g...%g is empty", a.ScaleLow, a.ScaleHigh)
	}
	if a.TriggerChannel < 0 || a.TriggerChannel > frame.MaxADCChannel {
		return frame.AnalogDescriptor{}, fmt.Errorf("config: trigger channel %d out of range 0...%d", a.TriggerChannel, frame.MaxADCChannel)
	}
	second, err := a.SecondChannelIndex()
	if err != nil {
		return frame.AnalogDescriptor{}, err
	}
	slope, err := frame.ParseSlope(a.Slope)
	if err != nil {
		return frame.AnalogDescriptor{}, err
	}
	hold, err := sample.ParseADCHold(a.Hold)
	if err != nil {
		return frame.AnalogDescriptor{}, err
	}
	if a.Samples < 0 || a.Samples == 1 || a.Samples > 0xffff {
		return frame.AnalogDescriptor{}, fmt.Errorf("config: analog samples %d not 0 or 2...65535", a.Samples)
	}
	return frame.AnalogDescriptor{
		TriggerChannel: uint8(a.TriggerChannel),
		SecondChannel:  second,
		Slope:          slope,
		Hold:           hold,
		Ganged:         a.Ganged,
		Samples:        uint16(a.Samples),
		Level:          a.Counts(a.Level - a.ScaleLow),
		Hysteresis:     a.Counts(a.Hysteresis),
	}, nil
}

// Timescale converts PerTick and Unit.
func (e *ExportConfig) Timescale() (export.Timescale, error) {
	unit, err := export.ParseUnit(e.Unit)
	if err != nil {
		return export.Timescale{}, err
	}
	ts := export.Timescale{PerTick: uint64(max(e.PerTick, 0)), Unit: unit}
	return ts, ts.Validate()
}

// Channels returns the exported lines with their names.
func (e *ExportConfig) Channels() ([]export.Channel, error) {
	lines := e.Lines
	if len(lines) == 0 {
		lines = make([]int, sample.Lines)
		for i := range lines {
			lines[i] = i
		}
	}
	chans := make([]export.Channel, 0, len(lines))
	for _, l := range lines {
		if l < 0 || l >= sample.Lines {
			return nil, fmt.Errorf("config: line %d out of range [0 ... %d]", l, sample.Lines-1)
		}
		name := export.DefaultName(uint8(l))
		if l < len(e.Names) && e.Names[l] != "" {
			name = e.Names[l]
		}
		chans = append(chans, export.Channel{Line: uint8(l), Name: name})
	}
	return chans, nil
}

// Options builds the exporter options.
func (e *ExportConfig) Options() (export.Options, error) {
	opts := export.DefaultOptions()
	f, err := export.ParseFormat(e.Format)
	if err != nil {
		return opts, err
	}
	ts, err := e.Timescale()
	if err != nil {
		return opts, err
	}
	chans, err := e.Channels()
	if err != nil {
		return opts, err
	}
	opts.Format = f
	opts.Timescale = ts
	opts.Channels = chans
	opts.TrailingEdge = e.PulseView
	return opts, nil
}
