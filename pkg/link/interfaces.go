package link

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/gousb"
)

// InterfaceKind categorizes how a device is reached.
type InterfaceKind string

const (
	InterfaceKindUSB InterfaceKind = "usb"
	InterfaceKindTTY InterfaceKind = "tty"
	InterfaceKindSim InterfaceKind = "sim"
)

// InterfaceInfo describes a detected device connection.
type InterfaceInfo struct {
	Kind        InterfaceKind
	Description string
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
	Path        string
}

// Label returns a user-friendly description for the interface.
func (i InterfaceInfo) Label() string {
	switch {
	case i.Kind == InterfaceKindTTY:
		return fmt.Sprintf("%s (%s)", i.Description, i.Path)
	case i.Kind == InterfaceKindUSB:
		return fmt.Sprintf("%s (%04X:%04X bus %d addr %d)", i.Description, i.VendorID, i.ProductID, i.Bus, i.Address)
	case i.Description != "":
		return i.Description
	}
	return string(i.Kind)
}

// ttyGlob matches the nodes the kernel cdc_acm driver creates.
var ttyGlob = "/dev/ttyACM*"

// DiscoverInterfaces lists buck50 devices visible over libusb and the
// CDC-ACM tty nodes. It always returns at least the simulator entry so the
// tools can run without hardware connected.
func DiscoverInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	var results []InterfaceInfo
	usb := gousb.NewContext()
	defer usb.Close()

	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		if info, ok := classifyUSBDevice(desc); ok {
			results = append(results, info)
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return results, err
	}

	ttys, err := filepath.Glob(ttyGlob)
	if err != nil {
		return results, err
	}
	sort.Strings(ttys)
	for _, path := range ttys {
		results = append(results, InterfaceInfo{
			Kind:        InterfaceKindTTY,
			Description: "CDC-ACM serial port",
			Path:        path,
		})
	}

	results = append(results, InterfaceInfo{
		Kind:        InterfaceKindSim,
		Description: "Simulator (no hardware)",
	})

	return results, nil
}

func classifyUSBDevice(desc *gousb.DeviceDesc) (InterfaceInfo, bool) {
	for _, known := range knownDevices {
		if uint16(desc.Vendor) == known.VendorID && uint16(desc.Product) == known.ProductID {
			return InterfaceInfo{
				Kind:        InterfaceKindUSB,
				Description: known.Description,
				VendorID:    known.VendorID,
				ProductID:   known.ProductID,
				Bus:         desc.Bus,
				Address:     desc.Address,
			}, true
		}
	}
	return InterfaceInfo{}, false
}

type knownUSBDevice struct {
	VendorID    uint16
	ProductID   uint16
	Description string
}

var knownDevices = []knownUSBDevice{
	{VendorID: VendorIDST, ProductID: ProductIDBuck50, Description: "buck50 logic analyzer"},
}
