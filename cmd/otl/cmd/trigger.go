package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/trigger"
	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Inspect trigger table files",
	Long: `Trigger tables are line based scripts applied over the default table
0=xxxxxxxx-0-0:

  # wait for line 0 low, then trigger when it goes high
  trigger 0=xxxxxxx0-1-0 wait low
  trigger 1=xxxxxxx1-0-1 rising edge
  delete 3-5 7

Each state is <index>=<test>-<pass>-<fail>. The test lists lines 7 down
to 0 as 1, 0 or x (don't care).`,
}

var triggerCheckCmd = &cobra.Command{
	Use:   "check <table-file>",
	Short: "Parse and validate a trigger table",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriggerCheck,
}

var triggerShowCmd = &cobra.Command{
	Use:   "show [table-file]",
	Short: "Print the normalized trigger table",
	Long: `Print the table that would be sent to the device, one definition per line,
in the same script form the file was written in. Without a file the default
table is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTriggerShow,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.AddCommand(triggerCheckCmd)
	triggerCmd.AddCommand(triggerShowCmd)
}

// loadTable returns the default table, or path applied over it.
func loadTable(path string) (trigger.Graph, error) {
	if path == "" {
		return trigger.NewGraph(), nil
	}
	g, err := trigger.LoadFile(path)
	if err != nil {
		return g, fmt.Errorf("failed to load trigger table %s: %w", path, err)
	}
	return g, nil
}

func runTriggerCheck(cmd *cobra.Command, args []string) error {
	g, err := loadTable(args[0])
	if err != nil {
		return err
	}

	if err := trigger.Validate(g); err != nil {
		var verrs trigger.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				fmt.Printf("  [%s] %s\n", v.Kind, v.Message)
			}
		}
		return fmt.Errorf("%s: %d problem(s) found", args[0], len(verrs))
	}

	fmt.Printf("%s: %d state(s), OK\n", args[0], g.Len())
	return nil
}

func runTriggerShow(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	}
	g, err := loadTable(path)
	if err != nil {
		return err
	}
	return trigger.WriteTable(os.Stdout, g)
}
