package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/spf13/cobra"
)

var oscopeCmd = &cobra.Command{
	Use:   "oscope",
	Short: "Arm an analog capture and wait for it to finish",
	Long: `Sample one or two ADC inputs (PA0...PA7) once the trigger channel crosses
level on the chosen slope, until the sample limit is reached or ENTER / Ctrl-C.

A positive slope fires when the signal rises to level after falling below
level minus hysteresis; a negative slope fires when it falls to level after
rising above level plus hysteresis. --slope disabled starts at once.
Level and hysteresis are in --scale-low...--scale-high units, volts by
default. A window that leaves the ADC range is clamped after asking,
unless --force is given.

Examples:
  otl oscope --trigger-channel 0 --level 1.2 --samples 2000
  otl oscope --second-channel 3 --slope negative --hold 71.5 --dump --format csv
  otl oscope --adapter sim --sim-analog 100,3000,3100,3200,3300 --samples 4 --dump`,
	Args: cobra.NoArgs,
	RunE: runOscope,
}

func init() {
	rootCmd.AddCommand(oscopeCmd)

	f := oscopeCmd.Flags()
	f.Int("trigger-channel", 0, "ADC input watched by the trigger, 0...7")
	f.String("second-channel", "", "second ADC input, 0...7 or none")
	f.String("slope", "", "trigger slope (positive, negative, disabled)")
	f.Float64("level", 0, "trigger level in scale units")
	f.Float64("hysteresis", 0, "trigger hysteresis in scale units")
	f.Float64("scale-low", 0, "value read as ADC 0")
	f.Float64("scale-high", 0, "value read as ADC full scale")
	f.String("hold", "", "sample and hold cycles (1.5, 7.5, 13.5, 28.5, 41.5, 55.5, 71.5, 239.5)")
	f.IntP("samples", "n", 0, "readings over both channels, 0 = until memory is full")
	f.Bool("ganged", false, "gang the trigger to the external sync input")
	f.BoolVarP(&forceCapture, "force", "f", false, "clamp an out of range trigger window without asking")
	f.BoolVar(&dumpAfter, "dump", false, "upload and export all samples when sampling stops")

	bindFlag("analog.trigger_channel", f.Lookup("trigger-channel"))
	bindFlag("analog.second_channel", f.Lookup("second-channel"))
	bindFlag("analog.slope", f.Lookup("slope"))
	bindFlag("analog.level", f.Lookup("level"))
	bindFlag("analog.hysteresis", f.Lookup("hysteresis"))
	bindFlag("analog.scale_low", f.Lookup("scale-low"))
	bindFlag("analog.scale_high", f.Lookup("scale-high"))
	bindFlag("analog.hold", f.Lookup("hold"))
	bindFlag("analog.samples", f.Lookup("samples"))
	bindFlag("analog.ganged", f.Lookup("ganged"))
}

func runOscope(cmd *cobra.Command, args []string) error {
	d, err := cfg.Analog.Descriptor()
	if err != nil {
		return err
	}
	if lo, hi, clamped := d.Thresholds(); clamped && !forceCapture {
		a := cfg.Analog
		err := fmt.Errorf("level %g with hysteresis %g leaves the %g...%g scale, the trigger window would be clamped to %d...%d counts",
			a.Level, a.Hysteresis, a.ScaleLow, a.ScaleHigh, lo, hi)
		if !confirm(err) {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Link.Close()

	wait, cancel := context.WithCancel(ctx)
	defer cancel()
	watchEnter(stdin, cancel)

	fmt.Printf("Sampling %d channel(s) on %s slope, press ENTER or Ctrl-C to stop ...\n", d.Channels(), d.Slope)
	res, err := s.ArmAnalog(wait, d)
	if err != nil {
		return fmt.Errorf("analog capture failed: %w", err)
	}
	fmt.Println(res.Summary())

	if !dumpAfter {
		return nil
	}
	return dumpSamples(ctx, s, 0, uint16(min(res.Completion.Samples(), frame.UnlimitedEvents)))
}
