// Package link carries bytes between the host and a capture device.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
)

var (
	// ErrTimeout means no bytes arrived before the read timeout.
	ErrTimeout = errors.New("timeout")
	// ErrInterrupted means the caller cancelled the wait.
	ErrInterrupted = errors.New("interrupted")
	// ErrShortRead means some, but not all, requested bytes arrived. It is
	// the same sentinel frame decoders return for truncated records.
	ErrShortRead = frame.ErrShortRecord
)

// Error describes a failed link operation.
type Error struct {
	Op   string
	Want int
	Got  int
	Err  error
}

func (e *Error) Error() string {
	if e.Want > 0 {
		return fmt.Sprintf("link: %s: %v (got %d of %d bytes)", e.Op, e.Err, e.Got, e.Want)
	}
	return fmt.Sprintf("link: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Link is a byte-oriented connection to a capture device.
type Link interface {
	// Write sends p in one transfer.
	Write(p []byte) error
	// Read waits for exactly size bytes. It fails with ErrTimeout if none
	// arrive within timeout, ErrShortRead if only some do, and
	// ErrInterrupted if ctx is cancelled first. A zero timeout waits until
	// ctx is done.
	Read(ctx context.Context, size int, timeout time.Duration) ([]byte, error)
	// Halt stops a capture or upload in progress.
	Halt() error
	// Flush discards incoming bytes for grace and reports how many.
	Flush(ctx context.Context, grace time.Duration) (int, error)
	Close() error
}

// Port is the raw byte pipe under a Device.
type Port interface {
	Write(p []byte) (int, error)
	// ReadContext returns at least one byte, or an error once ctx is done.
	ReadContext(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Device implements Link on top of a Port.
type Device struct {
	port     Port
	protocol *frame.Protocol
}

// NewDevice wraps port. A nil protocol uses the default MTU.
func NewDevice(port Port, protocol *frame.Protocol) *Device {
	if protocol == nil {
		protocol = frame.NewProtocol(frame.DefaultMTU)
	}
	return &Device{port: port, protocol: protocol}
}

// Port returns the underlying port.
func (d *Device) Port() Port {
	return d.port
}

func (d *Device) Write(p []byte) error {
	n, err := d.port.Write(p)
	if err != nil {
		return &Error{Op: "write", Want: len(p), Got: n, Err: err}
	}
	if n != len(p) {
		return &Error{Op: "write", Want: len(p), Got: n, Err: errors.New("short write")}
	}
	return nil
}

func (d *Device) Read(ctx context.Context, size int, timeout time.Duration) ([]byte, error) {
	rctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	buf := make([]byte, size)
	n := 0
	for n < size {
		m, err := d.port.ReadContext(rctx, buf[n:])
		n += m
		if err == nil {
			continue
		}
		switch {
		case ctx.Err() != nil:
			return buf[:n], &Error{Op: "read", Want: size, Got: n, Err: ErrInterrupted}
		case rctx.Err() != nil && n == 0:
			return nil, &Error{Op: "read", Want: size, Got: n, Err: ErrTimeout}
		case rctx.Err() != nil:
			return buf[:n], &Error{Op: "read", Want: size, Got: n, Err: ErrShortRead}
		default:
			return buf[:n], &Error{Op: "read", Want: size, Got: n, Err: err}
		}
	}
	return buf, nil
}

func (d *Device) Halt() error {
	if err := d.Write(d.protocol.EncodeHalt()); err != nil {
		return fmt.Errorf("link: could not halt: %w", err)
	}
	return nil
}

func (d *Device) Flush(ctx context.Context, grace time.Duration) (int, error) {
	fctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	buf := make([]byte, 1024)
	total := 0
	for {
		n, err := d.port.ReadContext(fctx, buf)
		total += n
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return total, &Error{Op: "flush", Err: ErrInterrupted}
		}
		if fctx.Err() != nil {
			return total, nil
		}
		return total, &Error{Op: "flush", Err: err}
	}
}

func (d *Device) Close() error {
	return d.port.Close()
}

// Connect sends the signature and checks the identity and firmware version
// replies. A version mismatch is reported but not fatal.
func Connect(ctx context.Context, l Link, p *frame.Protocol, timeout time.Duration) (uint32, frame.Version, error) {
	if err := l.Write(p.Signature()); err != nil {
		return 0, frame.Version{}, fmt.Errorf("link: could not send signature: %w", err)
	}
	raw, err := l.Read(ctx, frame.IdentitySize, timeout)
	if err != nil {
		return 0, frame.Version{}, fmt.Errorf("link: could not read identity: %w", err)
	}
	id, err := p.DecodeIdentity(raw)
	if err != nil {
		return 0, frame.Version{}, err
	}
	if id != frame.Identity {
		return id, frame.Version{}, fmt.Errorf("link: identity mismatch: hardware 0x%08x, software 0x%08x", id, uint32(frame.Identity))
	}

	if err := l.Write(p.EncodeCommand(frame.CmdVersion)); err != nil {
		return id, frame.Version{}, fmt.Errorf("link: could not request version: %w", err)
	}
	raw, err = l.Read(ctx, frame.VersionSize, timeout)
	if err != nil {
		return id, frame.Version{}, fmt.Errorf("link: could not read version: %w", err)
	}
	v, err := p.DecodeVersion(raw)
	if err != nil {
		return id, v, err
	}
	if v != frame.FirmwareVersion {
		return id, v, &VersionMismatchError{Firmware: v, Software: frame.FirmwareVersion}
	}
	return id, v, nil
}

// VersionMismatchError reports firmware that differs from the supported
// version. Callers may continue after warning.
type VersionMismatchError struct {
	Firmware frame.Version
	Software frame.Version
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("link: firmware version %s does not match software version %s", e.Firmware, e.Software)
}
