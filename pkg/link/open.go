package link

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceLogic/pkg/frame"
)

// Open connects to a device of the given kind. path names the tty node for
// InterfaceKindTTY and is ignored otherwise. sim is used for
// InterfaceKindSim; a nil sim creates an idle one.
func Open(kind InterfaceKind, path string, sim *Sim, p *frame.Protocol) (*Device, error) {
	var (
		port Port
		err  error
	)
	switch kind {
	case InterfaceKindUSB:
		port, err = OpenUSB(0, 0)
	case InterfaceKindTTY:
		port, err = OpenTTY(path)
	case InterfaceKindSim:
		if sim == nil {
			sim = NewSim()
		}
		port = sim
	default:
		return nil, fmt.Errorf("link: unknown adapter %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return NewDevice(port, p), nil
}
