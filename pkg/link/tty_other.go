//go:build !linux

package link

import (
	"context"
	"errors"
)

const DefaultTTY = "/dev/ttyACM0"

var errNoTTY = errors.New("link: tty ports are only supported on linux, use the usb adapter")

// TTYPort is unavailable on this platform.
type TTYPort struct{}

func OpenTTY(path string) (*TTYPort, error) {
	return nil, errNoTTY
}

func (t *TTYPort) Write(p []byte) (int, error) { return 0, errNoTTY }

func (t *TTYPort) ReadContext(ctx context.Context, p []byte) (int, error) { return 0, errNoTTY }

func (t *TTYPort) Close() error { return nil }
