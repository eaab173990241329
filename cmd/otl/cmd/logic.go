package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var (
	forceCapture bool
	dumpAfter    bool

	// stdin is watched for ENTER while sampling.
	stdin io.Reader = os.Stdin
	// watchEnter starts watching stdin once the table is approved.
	watchEnter = abortOnEnter
)

var logicCmd = &cobra.Command{
	Use:   "logic",
	Short: "Arm a digital capture and wait for it to finish",
	Long: `Send the trigger table and capture settings to the device, then wait until
sampling stops on the event limit, the time limit, or ENTER / Ctrl-C.

A trigger table that fails validation can stall the device; logic asks
before sending one unless --force is given.

Examples:
  otl logic --triggers rising.trg --events 1000
  otl logic --mode uniform --duration 2s --dump --format csv --file run1
  otl logic --adapter sim --sim-inputs 0,1,1,0,1 --events 3 --dump`,
	Args: cobra.NoArgs,
	RunE: runLogic,
}

func init() {
	rootCmd.AddCommand(logicCmd)

	f := logicCmd.Flags()
	f.StringP("triggers", "t", "", "trigger table file applied over the default table")
	f.StringP("mode", "m", "", "sampling mode (6.26MHz, irregular, uniform, 4MHz)")
	f.DurationP("duration", "d", 0, "stop sampling after this long, 0 = no limit")
	f.IntP("events", "n", 0, "stop after this many samples, 0 = no limit")
	f.String("bank", "", "run the sampling loop from ram or flash")
	f.Bool("ganged", false, "gang the trigger to the external sync input")
	f.BoolVarP(&forceCapture, "force", "f", false, "capture with a trigger table that fails validation without asking")
	f.BoolVar(&dumpAfter, "dump", false, "upload and export all samples when sampling stops")

	bindFlag("capture.triggers", f.Lookup("triggers"))
	bindFlag("capture.mode", f.Lookup("mode"))
	bindFlag("capture.duration", f.Lookup("duration"))
	bindFlag("capture.max_events", f.Lookup("events"))
	bindFlag("capture.code_bank", f.Lookup("bank"))
	bindFlag("capture.ganged", f.Lookup("ganged"))
}

// confirm asks on the terminal whether to capture despite err.
var confirm = func(err error) bool {
	fmt.Fprintln(os.Stderr, err)
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	answer, perr := line.Prompt("Continue anyway? [y/N] ")
	if perr != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func runLogic(cmd *cobra.Command, args []string) error {
	g, err := loadTable(cfg.Capture.Triggers)
	if err != nil {
		return err
	}
	d, err := cfg.Capture.Descriptor()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Link.Close()

	s.Confirm = confirm
	if forceCapture {
		s.Confirm = func(error) bool { return true }
	}

	if err := s.Approve(g); err != nil {
		return err
	}

	wait, cancel := context.WithCancel(ctx)
	defer cancel()
	watchEnter(stdin, cancel)

	fmt.Printf("Sampling %d trigger state(s) in %s mode, press ENTER or Ctrl-C to stop ...\n", g.Len(), d.Mode)
	res, err := s.Arm(wait, g, d)
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}
	fmt.Println(res.Summary())

	if !dumpAfter {
		return nil
	}
	return dumpSamples(ctx, s, 0, res.Completion.SampleCount)
}

// abortOnEnter calls cancel once a full line is read from r. End of input
// does not cancel.
func abortOnEnter(r io.Reader, cancel context.CancelFunc) {
	go func() {
		if _, err := bufio.NewReader(r).ReadString('\n'); err == nil {
			cancel()
		}
	}()
}
