// Package capture runs trigger, sample and upload exchanges with a device.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/export"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/link"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/sample"
	"github.com/OpenTraceLab/OpenTraceLogic/pkg/trigger"
)

const (
	// DefaultGrace is how long the link is drained after an abort.
	DefaultGrace = 2 * time.Second
	// DefaultReplyTimeout bounds each reply other than the wait for
	// sampling to finish.
	DefaultReplyTimeout = 2 * time.Second
)

// Session holds everything one device conversation needs.
type Session struct {
	Link     link.Link
	Protocol *frame.Protocol
	Logger   *slog.Logger

	Grace        time.Duration
	ReplyTimeout time.Duration
	// Confirm decides whether to capture with a table that failed
	// validation. A nil Confirm refuses.
	Confirm func(error) bool
}

// NewSession returns a session with default timeouts. A nil logger discards
// output.
func NewSession(l link.Link, p *frame.Protocol, logger *slog.Logger) *Session {
	if p == nil {
		p = frame.NewProtocol(frame.DefaultMTU)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		Link:         l,
		Protocol:     p,
		Logger:       logger,
		Grace:        DefaultGrace,
		ReplyTimeout: DefaultReplyTimeout,
	}
}

// Connect performs the signature handshake. A firmware version mismatch is
// logged and otherwise ignored.
func (s *Session) Connect(ctx context.Context) (frame.Version, error) {
	_, v, err := link.Connect(ctx, s.Link, s.Protocol, s.ReplyTimeout)
	var mismatch *link.VersionMismatchError
	if errors.As(err, &mismatch) {
		s.Logger.Warn("firmware version mismatch", "firmware", mismatch.Firmware, "software", mismatch.Software)
		return v, nil
	}
	if err != nil {
		return v, err
	}
	s.Logger.Debug("connected", "version", v)
	return v, nil
}

// Result is the outcome of one capture.
type Result struct {
	Completion frame.Completion
	Elapsed    time.Duration
	// Aborted is set when the wait was cancelled and the device halted.
	Aborted bool
}

// Summary is the one-line report printed after sampling ends.
func (r Result) Summary() string {
	c := r.Completion
	return fmt.Sprintf("%s: %d samples (%s) in %.2f seconds. Stopped by %s.",
		c.Triggered, c.SampleCount, c.Mode, r.Elapsed.Seconds(), c.Halt)
}

// Capture validates g, sends it with d, and waits until sampling ends.
// Cancelling ctx halts the device, collects the completion it sends in
// response, and drains the link before returning.
func (s *Session) Capture(ctx context.Context, g trigger.Graph, d frame.CaptureDescriptor) (Result, error) {
	if err := s.Approve(g); err != nil {
		return Result{}, err
	}
	return s.Arm(ctx, g, d)
}

// Approve validates g. A table that fails validation is passed to Confirm,
// and its error is returned unless Confirm accepts it.
func (s *Session) Approve(g trigger.Graph) error {
	err := trigger.Validate(g)
	if err == nil {
		return nil
	}
	if s.Confirm == nil || !s.Confirm(err) {
		return err
	}
	s.Logger.Warn("capturing with invalid trigger table", "error", err)
	return nil
}

// Arm sends the capture command without validating g and waits for
// sampling to end.
func (s *Session) Arm(ctx context.Context, g trigger.Graph, d frame.CaptureDescriptor) (Result, error) {
	cmd, err := s.Protocol.EncodeCapture(g, d)
	if err != nil {
		return Result{}, err
	}
	chunks := s.Protocol.Chunks(cmd)
	for i, chunk := range chunks {
		if err := s.Link.Write(chunk); err != nil {
			s.abort(ctx)
			return Result{}, fmt.Errorf("capture: could not send chunk %d of %d: %w", i+1, len(chunks), err)
		}
	}
	s.Logger.Info("capture armed",
		"mode", d.Mode,
		"states", int(g.MaxIndex())+1,
		"chunks", len(chunks),
		"duration", d.Duration,
		"max_events", d.MaxEvents,
	)

	begin := time.Now()
	res := Result{}
	raw, aborted, err := s.awaitCompletion(ctx, frame.CompletionSize)
	res.Aborted = aborted
	res.Elapsed = time.Since(begin)
	if err != nil {
		s.abort(ctx)
		return res, fmt.Errorf("capture: could not read completion: %w", err)
	}

	res.Completion, err = s.Protocol.DecodeCompletion(raw)
	if err != nil {
		return res, err
	}
	if res.Aborted {
		s.flush(ctx)
	}
	s.Logger.Info("capture finished",
		"halt", res.Completion.Halt,
		"triggered", res.Completion.Triggered.Triggered(),
		"samples", res.Completion.SampleCount,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// AnalogResult is the outcome of one oscilloscope capture.
type AnalogResult struct {
	Completion frame.AnalogCompletion
	Elapsed    time.Duration
	Aborted    bool
}

// Summary is the one-line report printed after analog sampling ends.
func (r AnalogResult) Summary() string {
	c := r.Completion
	plural := "s"
	if c.Channels == 1 {
		plural = ""
	}
	rate := "???"
	if c.Hold <= sample.Hold239_5 {
		rate = c.Hold.String()
	}
	return fmt.Sprintf("%d samples, %d channel%s (%s) at %s in %.2f seconds. %s. Stopped by %s.",
		c.Samples(), c.Channels, plural, strings.Join(c.ChannelNames(), ","),
		rate, r.Elapsed.Seconds(), c.Triggered, c.Halt)
}

// ArmAnalog sends an analog capture command and waits until sampling ends.
// Cancelling ctx halts the device as Arm does.
func (s *Session) ArmAnalog(ctx context.Context, d frame.AnalogDescriptor) (AnalogResult, error) {
	lo, hi, clamped := d.Thresholds()
	if clamped {
		s.Logger.Warn("analog trigger window clamped to 12 bits",
			"level", d.Level, "hysteresis", d.Hysteresis, "low", lo, "high", hi)
	}
	cmd, err := s.Protocol.EncodeAnalog(d)
	if err != nil {
		return AnalogResult{}, err
	}
	if err := s.Link.Write(cmd); err != nil {
		s.abort(ctx)
		return AnalogResult{}, fmt.Errorf("capture: could not send analog command: %w", err)
	}
	s.Logger.Info("analog capture armed",
		"trigger_channel", d.TriggerChannel,
		"channels", d.Channels(),
		"slope", d.Slope,
		"low", lo,
		"high", hi,
		"hold", d.Hold,
		"samples", d.Samples,
	)

	begin := time.Now()
	res := AnalogResult{}
	raw, aborted, err := s.awaitCompletion(ctx, frame.AnalogCompletionSize)
	res.Aborted = aborted
	res.Elapsed = time.Since(begin)
	if err != nil {
		s.abort(ctx)
		return res, fmt.Errorf("capture: could not read analog completion: %w", err)
	}

	res.Completion, err = s.Protocol.DecodeAnalogCompletion(raw)
	if err != nil {
		return res, err
	}
	if res.Aborted {
		s.flush(ctx)
	}
	s.Logger.Info("analog capture finished",
		"halt", res.Completion.Halt,
		"triggered", res.Completion.Triggered.Triggered(),
		"samples", res.Completion.Samples(),
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// awaitCompletion waits for a size byte completion record. If ctx is
// cancelled first, the device is halted and only the part of the record
// still missing is read.
func (s *Session) awaitCompletion(ctx context.Context, size int) ([]byte, bool, error) {
	raw, err := s.Link.Read(ctx, size, 0)
	if !errors.Is(err, link.ErrInterrupted) {
		return raw, false, err
	}
	if len(raw) >= size {
		return raw[:size], false, nil
	}
	s.Logger.Info("capture interrupted, halting", "received", len(raw), "size", size)
	rest, err := s.haltAndRead(ctx, size-len(raw))
	return append(raw, rest...), true, err
}

// haltAndRead sends halt and reads the next size bytes.
func (s *Session) haltAndRead(ctx context.Context, size int) ([]byte, error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.Link.Halt(); err != nil {
		return nil, err
	}
	return s.Link.Read(ctx, size, s.ReplyTimeout)
}

// abort makes a best-effort attempt to stop the device and discard
// whatever it is still sending.
func (s *Session) abort(ctx context.Context) {
	if err := s.Link.Halt(); err != nil {
		s.Logger.Warn("halt failed", "error", err)
	}
	s.flush(ctx)
}

func (s *Session) flush(ctx context.Context) {
	n, err := s.Link.Flush(context.WithoutCancel(ctx), s.Grace)
	if err != nil {
		s.Logger.Warn("flush failed", "flushed", n, "error", err)
		return
	}
	s.Logger.Debug("link flushed", "bytes", n, "grace", s.Grace)
}

// Upload requests count samples from first and reads them in order. A
// failed or interrupted upload halts the device and drains the link.
func (s *Session) Upload(ctx context.Context, first, count uint16) (export.Capture, error) {
	if err := s.Link.Write(s.Protocol.EncodeUpload(first, count)); err != nil {
		return export.Capture{}, fmt.Errorf("capture: could not request upload: %w", err)
	}
	raw, err := s.Link.Read(ctx, frame.UploadHeaderSize, s.ReplyTimeout)
	if err != nil {
		s.abort(ctx)
		return export.Capture{}, fmt.Errorf("capture: could not read upload header: %w", err)
	}
	h, err := s.Protocol.DecodeUploadHeader(raw)
	if err != nil {
		return export.Capture{}, err
	}
	c := export.Capture{Header: h}
	if h.Empty() {
		s.Logger.Info("nothing to upload", "max_memory", h.MaxMemory)
		return c, nil
	}

	c.Words = make([]sample.Raw, 0, h.Count)
	for i := 0; i < int(h.Count); i++ {
		raw, err := s.Link.Read(ctx, frame.SampleSize, s.ReplyTimeout)
		if err != nil {
			s.abort(ctx)
			return c, fmt.Errorf("capture: upload of %d samples interrupted/failed @ #%d: %w", h.Count, i+1, err)
		}
		w, err := s.Protocol.DecodeSampleWord(raw)
		if err != nil {
			return c, err
		}
		c.Words = append(c.Words, w)
	}
	s.Logger.Info("upload finished", "first", h.First, "samples", len(c.Words), "mode", h.Mode)
	return c, nil
}
