package link

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

const (
	// buck50 USB identifiers (STM32 virtual COM port)
	VendorIDST      = 0x0483
	ProductIDBuck50 = 0x5740

	// CDC class request raising DTR and RTS
	cdcSetControlLineState = 0x22
	cdcLineStateDTRRTS     = 0x03

	defaultPacketSize = 64
)

// USBPort talks to the device's CDC-ACM data interface directly through
// libusb, bypassing the kernel tty driver.
type USBPort struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	packetSize int

	mu      sync.Mutex
	pending []byte
}

// OpenUSB opens the first device matching vid:pid. Zero values select the
// buck50 identifiers.
func OpenUSB(vid, pid uint16) (*USBPort, error) {
	if vid == 0 && pid == 0 {
		vid, pid = VendorIDST, ProductIDBuck50
	}
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("link: USB error: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("link: device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}

	// The kernel cdc_acm driver owns the device on Linux.
	_ = dev.SetAutoDetach(true)

	p := &USBPort{
		ctx:        ctx,
		dev:        dev,
		packetSize: defaultPacketSize,
	}
	if err := p.claimInterface(); err != nil {
		p.Close()
		return nil, err
	}

	// Firmware only transmits once the host asserts DTR.
	if _, err := dev.Control(gousb.ControlOut|gousb.ControlClass|gousb.ControlInterface,
		cdcSetControlLineState, cdcLineStateDTRRTS, 0, nil); err != nil {
		p.Close()
		return nil, fmt.Errorf("link: could not set line state: %w", err)
	}
	return p, nil
}

// claimInterface claims the CDC data interface (class 0x0A)
func (p *USBPort) claimInterface() error {
	cfg, err := p.dev.Config(1)
	if err != nil {
		return fmt.Errorf("link: failed to get config: %w", err)
	}
	p.cfg = cfg

	dataIntf := -1
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassData {
			dataIntf = intf.Number
			break
		}
	}
	if dataIntf == -1 {
		return fmt.Errorf("link: CDC data interface not found")
	}

	intf, err := cfg.Interface(dataIntf, 0)
	if err != nil {
		return fmt.Errorf("link: failed to claim interface %d: %w", dataIntf, err)
	}
	p.intf = intf

	return p.findEndpoints()
}

func (p *USBPort) findEndpoints() error {
	outNum, inNum := -1, -1
	for _, ep := range p.intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if outNum < 0 {
				outNum = ep.Number
			}
		case gousb.EndpointDirectionIn:
			if inNum < 0 {
				inNum = ep.Number
				p.packetSize = ep.MaxPacketSize
			}
		}
	}
	if outNum < 0 {
		return fmt.Errorf("link: bulk OUT endpoint not found")
	}
	if inNum < 0 {
		return fmt.Errorf("link: bulk IN endpoint not found")
	}

	epOut, err := p.intf.OutEndpoint(outNum)
	if err != nil {
		return fmt.Errorf("link: failed to open OUT endpoint: %w", err)
	}
	p.epOut = epOut

	epIn, err := p.intf.InEndpoint(inNum)
	if err != nil {
		return fmt.Errorf("link: failed to open IN endpoint: %w", err)
	}
	p.epIn = epIn
	return nil
}

func (p *USBPort) Write(data []byte) (int, error) {
	n, err := p.epOut.Write(data)
	if err != nil {
		return n, fmt.Errorf("USB write failed: %w", err)
	}
	return n, nil
}

// ReadContext returns buffered bytes first, then waits for one bulk packet.
func (p *USBPort) ReadContext(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		// IN transfers must be a whole number of packets.
		packet := make([]byte, p.packetSize)
		n, err := p.epIn.ReadContext(ctx, packet)
		p.pending = append(p.pending, packet[:n]...)
		if n == 0 && err != nil {
			return 0, fmt.Errorf("USB read failed: %w", err)
		}
	}
	n := copy(data, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *USBPort) Close() error {
	if p.intf != nil {
		p.intf.Close()
		p.intf = nil
	}
	if p.cfg != nil {
		p.cfg.Close()
		p.cfg = nil
	}
	if p.dev != nil {
		p.dev.Close()
		p.dev = nil
	}
	if p.ctx != nil {
		p.ctx.Close()
		p.ctx = nil
	}
	return nil
}
