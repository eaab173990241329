package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// resetFlags puts every flag back to its default and unchanged state so
// viper falls through to the config file again.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs otl with args and returns what it printed on stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

// executeWithInput is execute with input typed while sampling.
func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	resetFlags(rootCmd)
	viper.Reset()
	for key, f := range boundFlags {
		_ = viper.BindPFlag(key, f)
	}
	stdin = strings.NewReader(input)

	// Capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	w.Close()
	os.Stdout = old
	<-done

	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// TestTriggerE2E tests the trigger commands end-to-end
func TestTriggerE2E(t *testing.T) {
	dir := t.TempDir()
	rising := writeFile(t, dir, "rising.trg", `# rising edge on line 0
trigger 0=xxxxxxx0-1-0 wait low
t 1=xxxxxxx1-0-1 high
`)
	loop := writeFile(t, dir, "loop.trg", "trigger 0=xxxxxxx1-1-0\ntrigger 1=xxxxxxx0-1-0\n")
	broken := writeFile(t, dir, "broken.trg", "trigger 0=xxxxxxx2-1-0\n")

	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "check valid",
			args:        []string{"trigger", "check", rising},
			wantContain: []string{"2 state(s), OK"},
		},
		{
			name:        "check pass loop",
			args:        []string{"trigger", "check", loop},
			wantErr:     true,
			wantContain: []string{"[pass-loop]"},
		},
		{
			name:    "check bad test field",
			args:    []string{"trigger", "check", broken},
			wantErr: true,
		},
		{
			name:    "check missing file",
			args:    []string{"trigger", "check", filepath.Join(dir, "none.trg")},
			wantErr: true,
		},
		{
			name:        "show file",
			args:        []string{"trigger", "show", rising},
			wantContain: []string{"trigger 0=xxxxxxx0-1-0 wait low\n", "trigger 1=xxxxxxx1-0-1 high\n"},
		},
		{
			name:        "show default",
			args:        []string{"trigger", "show"},
			wantContain: []string{"trigger 0=xxxxxxxx-0-0\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, tt.args...)
			if tt.wantErr != (err != nil) {
				t.Fatalf("error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

// TestLogicE2E runs captures against the simulator
func TestLogicE2E(t *testing.T) {
	dir := t.TempDir()
	csvConfig := writeFile(t, dir, "csv.yaml", `device:
  grace: 10ms
export:
  format: csv
  lines: [0]
`)
	vcdConfig := writeFile(t, dir, "vcd.yaml", `device:
  grace: 10ms
export:
  format: vcd
  lines: [0]
  names: [clk]
  pulseview: true
  file: `+filepath.Join(dir, "capture")+`
`)
	high := writeFile(t, dir, "high.trg", "trigger 0=xxxxxxx1-0-0\n")
	loop := writeFile(t, dir, "loop.trg", "trigger 0=xxxxxxx1-1-0\ntrigger 1=xxxxxxx0-1-0\n")

	tests := []struct {
		name        string
		args        []string
		stdin       string
		wantErr     bool
		wantContain []string
	}{
		{
			name: "capture and dump csv",
			args: []string{"logic", "--config", csvConfig, "--adapter", "sim", "--sim-inputs", "0,1,1,0,1", "--events", "3", "--dump"},
			wantContain: []string{
				"Triggered at state #0: 3 samples (6.26MHz)",
				"Stopped by number of samples.",
				"time,brn\n0,0\n1e-05,1\n3e-05,0\n",
			},
		},
		{
			name: "capture to vcd file",
			args: []string{"logic", "--config", vcdConfig, "--adapter", "sim", "--sim-inputs", "0,1,1,0,1", "--events", "3", "--dump"},
			wantContain: []string{
				"logic samples: 0...2 of 3",
				"Wrote 3 row(s) to " + filepath.Join(dir, "capture.vcd"),
			},
		},
		{
			name: "time limit",
			args: []string{"logic", "--config", csvConfig, "--adapter", "sim", "--sim-inputs", "0,0,1,1", "--triggers", high, "--duration", "1s"},
			wantContain: []string{
				"Triggered at state #0: 1 samples (6.26MHz)",
				"Stopped by time elapsed.",
			},
		},
		{
			name:  "stopped by enter",
			args:  []string{"logic", "--config", csvConfig, "--adapter", "sim", "--sim-inputs", "0,0,0", "--triggers", high},
			stdin: "\n",
			wantContain: []string{
				"Not triggered, interrupted at state #0: 0 samples",
				"Stopped by user interrupt.",
			},
		},
		{
			name:    "invalid table declined",
			args:    []string{"logic", "--config", csvConfig, "--adapter", "sim", "--triggers", loop},
			wantErr: true,
		},
		{
			name:    "unknown adapter",
			args:    []string{"logic", "--adapter", "ftdi"},
			wantErr: true,
		},
	}

	declined := 0
	prev := confirm
	t.Cleanup(func() { confirm = prev })
	confirm = func(error) bool {
		declined++
		return false
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeWithInput(t, tt.stdin, tt.args...)
			if tt.wantErr != (err != nil) {
				t.Fatalf("error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}

	if declined != 1 {
		t.Errorf("confirm called %d times, want 1", declined)
	}

	vcd, err := os.ReadFile(filepath.Join(dir, "capture.vcd"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, want := range []string{"$var wire 1 0 clk $end\n", "#0\n00\n#80\n10\n#240\n00\n#242\n00\n"} {
		if !strings.Contains(string(vcd), want) {
			t.Errorf("capture.vcd missing %q:\n%s", want, vcd)
		}
	}
}

// TestLogicConfirmsBeforeWatchingStdin checks that the terminal prompt is
// done with stdin before ENTER is watched for.
func TestLogicConfirmsBeforeWatchingStdin(t *testing.T) {
	dir := t.TempDir()
	loop := writeFile(t, dir, "loop.trg", "trigger 0=xxxxxxx1-1-0\ntrigger 1=xxxxxxx0-1-0\n")
	cfgPath := writeFile(t, dir, "otl.yaml", "device:\n  grace: 10ms\n")

	tests := []struct {
		name      string
		accept    bool
		wantErr   bool
		wantOrder []string
	}{
		{name: "accepted", accept: true, wantOrder: []string{"confirm", "watch"}},
		{name: "declined", accept: false, wantErr: true, wantOrder: []string{"confirm"}},
	}

	prevConfirm, prevWatch := confirm, watchEnter
	t.Cleanup(func() { confirm, watchEnter = prevConfirm, prevWatch })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			confirm = func(error) bool {
				order = append(order, "confirm")
				return tt.accept
			}
			watchEnter = func(r io.Reader, cancel context.CancelFunc) {
				order = append(order, "watch")
				abortOnEnter(r, cancel)
			}

			output, err := executeWithInput(t, "\n", "logic", "--config", cfgPath, "--adapter", "sim", "--sim-inputs", "0,0,0", "--triggers", loop)
			if tt.wantErr != (err != nil) {
				t.Fatalf("error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
			}
			if strings.Join(order, ",") != strings.Join(tt.wantOrder, ",") {
				t.Fatalf("order = %v, want %v", order, tt.wantOrder)
			}
			if tt.accept && !strings.Contains(output, "Stopped by user interrupt.") {
				t.Fatalf("output = %q", output)
			}
		})
	}
}

// TestOscopeE2E runs analog captures against the simulator
func TestOscopeE2E(t *testing.T) {
	dir := t.TempDir()
	csvConfig := writeFile(t, dir, "csv.yaml", `device:
  grace: 10ms
export:
  format: csv
`)

	tests := []struct {
		name        string
		args        []string
		stdin       string
		wantErr     bool
		wantConfirm int
		wantContain []string
	}{
		{
			name: "capture and dump csv",
			args: []string{"oscope", "--config", csvConfig, "--adapter", "sim", "--sim-analog", "100,3000,3100,3200,3300", "--samples", "4", "--dump"},
			wantContain: []string{
				"4 samples, 1 channel (PA0) at 239.5+12.5@12MHz->47.6kHz in",
				"Triggered on analog level/slope/hysteresis. Stopped by number of samples.",
				"time,PA0\n0,3000\n2.1e-05,3100\n",
			},
		},
		{
			name: "two channels negative slope",
			args: []string{"oscope", "--config", csvConfig, "--adapter", "sim", "--sim-analog", "4000:1,1000:2,900:3",
				"--second-channel", "6", "--slope", "negative", "--samples", "2", "--dump"},
			wantContain: []string{
				"2 samples, 2 channels (PA0,PA6)",
				"time,PA0,PA6\n0,1000,2\n",
			},
		},
		{
			name:  "stopped by enter",
			args:  []string{"oscope", "--config", csvConfig, "--adapter", "sim", "--sim-analog", "100,200"},
			stdin: "\n",
			wantContain: []string{
				"0 samples, 1 channel (PA0)",
				"Not triggered, interrupted while waiting for analog slope/level/hysteresis. Stopped by user interrupt.",
			},
		},
		{
			name:        "clamped window declined",
			args:        []string{"oscope", "--config", csvConfig, "--adapter", "sim", "--slope", "negative", "--level", "3.3"},
			wantErr:     true,
			wantConfirm: 1,
		},
		{
			name:  "clamped window forced",
			args:  []string{"oscope", "--config", csvConfig, "--adapter", "sim", "--slope", "negative", "--level", "3.3", "--force"},
			stdin: "\n",
			wantContain: []string{
				"Stopped by user interrupt.",
			},
		},
		{
			name:    "bad hold",
			args:    []string{"oscope", "--adapter", "sim", "--hold", "3"},
			wantErr: true,
		},
	}

	prev := confirm
	t.Cleanup(func() { confirm = prev })

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asked := 0
			confirm = func(error) bool {
				asked++
				return false
			}
			output, err := executeWithInput(t, tt.stdin, tt.args...)
			if tt.wantErr != (err != nil) {
				t.Fatalf("error = %v, wantErr %v\nOutput: %s", err, tt.wantErr, output)
			}
			if asked != tt.wantConfirm {
				t.Fatalf("confirm called %d times, want %d", asked, tt.wantConfirm)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

// TestDumpE2E uploads from a simulator that never captured
func TestDumpE2E(t *testing.T) {
	output, err := execute(t, "dump", "--adapter", "sim")
	if err != nil {
		t.Fatalf("dump returned error: %v", err)
	}
	if !strings.Contains(output, "Zero samples uploaded (of max memory capacity 4842 samples)") {
		t.Errorf("unexpected output:\n%s", output)
	}

	if _, err := execute(t, "dump", "--adapter", "sim", "--begin", "-1"); err == nil {
		t.Errorf("expected error for negative --begin")
	}
}

func TestInterfacesE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("enumerates USB devices")
	}
	output, err := execute(t, "interfaces")
	if err != nil {
		t.Fatalf("interfaces returned error: %v", err)
	}
	if !strings.Contains(output, "Simulator (no hardware) [sim]") {
		t.Errorf("simulator not listed:\n%s", output)
	}
}
