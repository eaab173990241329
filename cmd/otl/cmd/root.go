package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLogic/internal/config"
	"github.com/OpenTraceLab/OpenTraceLogic/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/link"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	cfg     *config.Config
	logger  = logging.Discard()
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "otl",
	Short: "OpenTraceLogic - buck50 logic analyzer host tool",
	Long: `OpenTraceLogic (otl) drives a buck50 logic analyzer: it loads trigger
tables, arms digital and analog captures, and uploads and exports the
samples.

Examples:
  otl interfaces                                   # List analyzers
  otl trigger check rising.trg                     # Validate a trigger table
  otl logic --triggers rising.trg --events 1000    # Capture
  otl dump --format vcd --file capture --pulseview # Export the last capture
  otl oscope --slope negative --level 2.5 --dump   # Analog capture
  otl logic --adapter sim --sim-inputs 0,1,0,1 --events 3 --dump`,
	Version:           "0.9.5",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
			logFile = nil
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is "+config.File()+")")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (same as --log-level debug)")
	pf.StringP("adapter", "a", "", "device adapter (usb, tty, sim)")
	pf.String("device", "", "tty device path for the tty adapter")
	pf.String("sim-inputs", "", "simulator: line patterns, e.g. 0,1,0x81")
	pf.String("sim-analog", "", "simulator: ADC readings, e.g. 100,3000 or 100:7,3000:8 for two channels")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	bindFlag("device.adapter", pf.Lookup("adapter"))
	bindFlag("device.path", pf.Lookup("device"))
	bindFlag("device.sim_inputs", pf.Lookup("sim-inputs"))
	bindFlag("device.sim_analog", pf.Lookup("sim-analog"))
	bindFlag("logging.level", pf.Lookup("log-level"))
}

// boundFlags maps config keys to the flags overriding them.
var boundFlags = map[string]*pflag.Flag{}

func bindFlag(key string, f *pflag.Flag) {
	boundFlags[key] = f
	_ = viper.BindPFlag(key, f)
}

// initConfig loads the configuration and sets up logging for every
// command.
func initConfig(cmd *cobra.Command, args []string) error {
	if err := config.Init(cfgFile); err != nil {
		return err
	}
	loaded, err := config.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.Logging.Level
	if verbose {
		level = logging.LevelDebug
	}
	switch {
	case cfg.Logging.File != "":
		logger, logFile, err = logging.NewFile(cfg.Logging.File, level)
		if err != nil {
			return err
		}
	default:
		logger = logging.New(os.Stderr, level, cfg.Logging.JSON)
	}
	logger.Debug("configuration loaded", "file", viper.ConfigFileUsed(), "adapter", cfg.Device.Adapter)
	return nil
}

// openSession connects to the configured device.
func openSession(ctx context.Context) (*capture.Session, error) {
	p := frame.NewProtocol(cfg.Device.MTU)
	kind := link.InterfaceKind(strings.ToLower(cfg.Device.Adapter))

	var sim *link.Sim
	if kind == link.InterfaceKindSim {
		inputs, err := cfg.Device.SimPatterns()
		if err != nil {
			return nil, err
		}
		readings, err := cfg.Device.SimReadings()
		if err != nil {
			return nil, err
		}
		sim = link.NewSim(inputs...)
		sim.AnalogInputs = readings
		sim.Period = uint32(cfg.Device.SimPeriod)
	}

	dev, err := link.Open(kind, cfg.Device.Path, sim, p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s adapter: %w", kind, err)
	}

	s := capture.NewSession(dev, p, logger.With("adapter", string(kind)))
	s.Grace = cfg.Device.Grace
	s.ReplyTimeout = cfg.Device.ReplyTimeout
	v, err := s.Connect(ctx)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if verbose {
		fmt.Printf("Connected to buck50 firmware %s via %s\n", v, kind)
	}
	return s, nil
}
