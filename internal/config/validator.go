package config

import (
	"fmt"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLogic/internal/logging"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/export"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/link"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "capture.max_events")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidAdapters returns the adapter names accepted by device.adapter
func ValidAdapters() []string {
	return []string{string(link.InterfaceKindUSB), string(link.InterfaceKindTTY), string(link.InterfaceKindSim)}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// maxDuration is the longest time limit the duration register holds.
var maxDuration = frame.TicksDuration(0xffff)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDevice()...)
	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateAnalog()...)
	errors = append(errors, c.validateExport()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateDevice() []ValidationError {
	var errors []ValidationError

	valid := false
	for _, a := range ValidAdapters() {
		if strings.EqualFold(c.Device.Adapter, a) {
			valid = true
		}
	}
	if !valid {
		errors = append(errors, ValidationError{
			Field:   "device.adapter",
			Value:   c.Device.Adapter,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidAdapters(), ", ")),
		})
	}

	if c.Device.MTU < 0 || c.Device.MTU > frame.DefaultMTU {
		errors = append(errors, ValidationError{
			Field:   "device.mtu",
			Value:   c.Device.MTU,
			Message: fmt.Sprintf("must be between 0 and %d", frame.DefaultMTU),
		})
	}

	if c.Device.Grace < 0 {
		errors = append(errors, ValidationError{
			Field:   "device.grace",
			Value:   c.Device.Grace,
			Message: "must be non-negative",
		})
	}

	if c.Device.ReplyTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "device.reply_timeout",
			Value:   c.Device.ReplyTimeout,
			Message: "must be positive",
		})
	}

	if _, err := c.Device.SimPatterns(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "device.sim_inputs",
			Value:   c.Device.SimInputs,
			Message: "must be byte values separated by commas or spaces",
		})
	}

	if _, err := c.Device.SimReadings(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "device.sim_analog",
			Value:   c.Device.SimAnalog,
			Message: "must be 12 bit readings or trigger:second pairs separated by commas or spaces",
		})
	}

	if c.Device.SimPeriod <= 0 || c.Device.SimPeriod >= sample.TickModulus {
		errors = append(errors, ValidationError{
			Field:   "device.sim_period",
			Value:   c.Device.SimPeriod,
			Message: fmt.Sprintf("must be between 1 and %d ticks", sample.TickModulus-1),
		})
	}

	return errors
}

func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if _, err := frame.ParseSamplingMode(c.Capture.Mode); err != nil {
		errors = append(errors, ValidationError{
			Field:   "capture.mode",
			Value:   c.Capture.Mode,
			Message: "must be one of: 6.26MHz, irregular, uniform, 4MHz",
		})
	}

	if _, err := frame.ParseCodeBank(c.Capture.CodeBank); err != nil {
		errors = append(errors, ValidationError{
			Field:   "capture.code_bank",
			Value:   c.Capture.CodeBank,
			Message: "must be ram or flash",
		})
	}

	if c.Capture.Duration < 0 || c.Capture.Duration > maxDuration {
		errors = append(errors, ValidationError{
			Field:   "capture.duration",
			Value:   c.Capture.Duration,
			Message: fmt.Sprintf("must be between 0 and %s", maxDuration),
		})
	}

	if c.Capture.MaxEvents < 0 || c.Capture.MaxEvents > frame.UnlimitedEvents {
		errors = append(errors, ValidationError{
			Field:   "capture.max_events",
			Value:   c.Capture.MaxEvents,
			Message: fmt.Sprintf("must be between 0 and %d", frame.UnlimitedEvents),
		})
	}

	return errors
}

func (c *Config) validateAnalog() []ValidationError {
	var errors []ValidationError
	a := c.Analog

	if a.TriggerChannel < 0 || a.TriggerChannel > frame.MaxADCChannel {
		errors = append(errors, ValidationError{
			Field:   "analog.trigger_channel",
			Value:   a.TriggerChannel,
			Message: fmt.Sprintf("must be between 0 and %d", frame.MaxADCChannel),
		})
	}

	if _, err := a.SecondChannelIndex(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "analog.second_channel",
			Value:   a.SecondChannel,
			Message: fmt.Sprintf("must be none or between 0 and %d", frame.MaxADCChannel),
		})
	}

	if _, err := frame.ParseSlope(a.Slope); err != nil {
		errors = append(errors, ValidationError{
			Field:   "analog.slope",
			Value:   a.Slope,
			Message: "must be one of: positive, negative, disabled",
		})
	}

	if _, err := sample.ParseADCHold(a.Hold); err != nil {
		errors = append(errors, ValidationError{
			Field:   "analog.hold",
			Value:   a.Hold,
			Message: "must be one of: 1.5, 7.5, 13.5, 28.5, 41.5, 55.5, 71.5, 239.5",
		})
	}

	if a.ScaleHigh <= a.ScaleLow {
		errors = append(errors, ValidationError{
			Field:   "analog.scale_high",
			Value:   a.ScaleHigh,
			Message: fmt.Sprintf("must be greater than scale_low %g", a.ScaleLow),
		})
	}

	if a.Hysteresis < 0 {
		errors = append(errors, ValidationError{
			Field:   "analog.hysteresis",
			Value:   a.Hysteresis,
			Message: "must be non-negative",
		})
	}

	if a.Samples < 0 || a.Samples == 1 || a.Samples > 0xffff {
		errors = append(errors, ValidationError{
			Field:   "analog.samples",
			Value:   a.Samples,
			Message: "must be 0 or between 2 and 65535",
		})
	}

	return errors
}

func (c *Config) validateExport() []ValidationError {
	var errors []ValidationError

	if _, err := export.ParseFormat(c.Export.Format); err != nil {
		errors = append(errors, ValidationError{
			Field:   "export.format",
			Value:   c.Export.Format,
			Message: "must be one of: terminal, csv, vcd",
		})
	}

	if c.Export.PerTick <= 0 {
		errors = append(errors, ValidationError{
			Field:   "export.per_tick",
			Value:   c.Export.PerTick,
			Message: "must be positive",
		})
	}

	if _, err := export.ParseUnit(c.Export.Unit); err != nil {
		errors = append(errors, ValidationError{
			Field:   "export.unit",
			Value:   c.Export.Unit,
			Message: "must be one of: s, ms, us, ns, ps, fs",
		})
	}

	seen := make(map[int]bool)
	for _, l := range c.Export.Lines {
		if l < 0 || l >= sample.Lines {
			errors = append(errors, ValidationError{
				Field:   "export.lines",
				Value:   l,
				Message: fmt.Sprintf("must be between 0 and %d", sample.Lines-1),
			})
			continue
		}
		if seen[l] {
			errors = append(errors, ValidationError{
				Field:   "export.lines",
				Value:   l,
				Message: "must not repeat a line",
			})
		}
		seen[l] = true
	}

	if len(c.Export.Names) > sample.Lines {
		errors = append(errors, ValidationError{
			Field:   "export.names",
			Value:   len(c.Export.Names),
			Message: fmt.Sprintf("must name at most %d lines", sample.Lines),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
