package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/capture"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/export"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/spf13/cobra"
)

var (
	dumpBegin int
	dumpCount int
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Upload captured samples and export them",
	Long: `Upload samples held by the device from the last capture and print them as a
table, or write them as dense CSV or sparse VCD.

The file suffix is added when missing. --pulseview repeats the final levels
after the last edge so PulseView shows them.

Examples:
  otl dump
  otl dump --begin 100 --count 50
  otl dump --format vcd --file capture --pulseview --lines 0,1,2 --names clk,mosi,cs`,
	Args: cobra.NoArgs,
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)

	f := dumpCmd.Flags()
	f.IntVarP(&dumpBegin, "begin", "b", 0, "first sample to upload")
	f.IntVarP(&dumpCount, "count", "n", frame.UnlimitedEvents, "number of samples to upload")
	f.String("format", "", "export format (terminal, csv, vcd)")
	f.StringP("file", "o", "", "write to this file instead of standard output")
	f.Bool("pulseview", false, "add a trailing edge for PulseView")
	f.IntSlice("lines", nil, "digital lines to export, in column order")
	f.StringSlice("names", nil, "channel names, by line number")
	f.Int("per-tick", 0, "VCD timescale resolution")
	f.String("unit", "", "VCD timescale unit (s, ms, us, ns, ps, fs)")

	bindFlag("export.format", f.Lookup("format"))
	bindFlag("export.file", f.Lookup("file"))
	bindFlag("export.pulseview", f.Lookup("pulseview"))
	bindFlag("export.lines", f.Lookup("lines"))
	bindFlag("export.names", f.Lookup("names"))
	bindFlag("export.per_tick", f.Lookup("per-tick"))
	bindFlag("export.unit", f.Lookup("unit"))
}

func runDump(cmd *cobra.Command, args []string) error {
	if dumpBegin < 0 || dumpBegin > frame.UnlimitedEvents || dumpCount < 0 || dumpCount > frame.UnlimitedEvents {
		return fmt.Errorf("--begin and --count must be between 0 and %d", frame.UnlimitedEvents)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Link.Close()

	return dumpSamples(ctx, s, uint16(dumpBegin), uint16(dumpCount))
}

// dumpSamples uploads count samples from first and exports them as
// configured.
func dumpSamples(ctx context.Context, s *capture.Session, first, count uint16) error {
	opts, err := cfg.Export.Options()
	if err != nil {
		return err
	}

	c, err := s.Upload(ctx, first, count)
	if err != nil {
		return err
	}

	if cfg.Export.File != "" {
		path := export.WithSuffix(cfg.Export.File, opts.Format)
		res, err := export.WriteFile(path, c, opts)
		if err != nil {
			return err
		}
		fmt.Println(res.Summary)
		fmt.Printf("Wrote %d row(s) to %s\n", res.Rows, path)
		return nil
	}

	if opts.Format != export.FormatTerminal {
		// keep the data stream clean for redirection
		fmt.Fprintln(os.Stderr, export.Summary(c.Header))
	}
	_, err = export.Render(os.Stdout, c, opts)
	return err
}
