//go:build linux

package link

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTTY is where the kernel cdc_acm driver exposes the device.
const DefaultTTY = "/dev/ttyACM0"

// pollSlice bounds each poll so cancellation is noticed promptly.
const pollSlice = 50 * time.Millisecond

// TTYPort is a raw-mode serial device node.
type TTYPort struct {
	path string
	fd   int
	old  *unix.Termios
}

// OpenTTY opens path in raw mode. The baud rate is irrelevant for CDC-ACM.
func OpenTTY(path string) (*TTYPort, error) {
	if path == "" {
		path = DefaultTTY
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("link: could not open %s: %w", path, err)
	}

	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("link: %s is not a terminal: %w", path, err)
	}

	raw := *old
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB | unix.CRTSCTS
	raw.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD
	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("link: could not configure %s: %w", path, err)
	}

	// Drop anything left over from a previous session.
	_ = unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)

	return &TTYPort{path: path, fd: fd, old: old}, nil
}

func (t *TTYPort) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := unix.Write(t.fd, p[total:])
		if n > 0 {
			total += n
		}
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLOUT}}
			if _, err := unix.Poll(fds, int(time.Second/time.Millisecond)); err != nil && err != unix.EINTR {
				return total, fmt.Errorf("link: poll %s: %w", t.path, err)
			}
		case err != nil:
			return total, fmt.Errorf("link: write %s: %w", t.path, err)
		}
	}
	return total, nil
}

func (t *TTYPort) ReadContext(ctx context.Context, p []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		wait := pollSlice
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < wait {
				wait = max(left, time.Millisecond)
			}
		}

		ready, err := unix.Poll(fds, int(wait/time.Millisecond))
		if err != nil && err != unix.EINTR {
			return 0, fmt.Errorf("link: poll %s: %w", t.path, err)
		}
		if ready == 0 {
			continue
		}

		n, err := unix.Read(t.fd, p)
		switch {
		case n > 0:
			return n, nil
		case err == unix.EAGAIN || err == unix.EINTR:
			continue
		case err != nil:
			return 0, fmt.Errorf("link: read %s: %w", t.path, err)
		default:
			return 0, fmt.Errorf("link: %s hung up", t.path)
		}
	}
}

// Close restores the original terminal settings.
func (t *TTYPort) Close() error {
	if t.old != nil {
		_ = unix.IoctlSetTermios(t.fd, unix.TCSETS, t.old)
	}
	return unix.Close(t.fd)
}
