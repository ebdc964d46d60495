// Package pci parses and renders PCI Domain:Bus:Device.Function addresses.
//
// Every source names the same device differently: the hypervisor reports
// "0000:1a:00.1", the management controller reports the bus in decimal
// ("26-1" or "26-0-1"), and the CLI embeds the address in an lspci listing
// line. Parse normalizes all of them to one Address so that comparisons
// never depend on the padding a source happened to use.
package pci

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrFormat is returned for any text that is not a recognizable PCI address.
var ErrFormat = errors.New("format error")

const (
	maxDevice   = 31
	maxFunction = 7
)

var (
	// DDDD:BB:DD.F or BB:DD.F, hex
	hexAddressPattern = regexp.MustCompile(`^(?:([0-9a-fA-F]{1,4}):)?([0-9a-fA-F]{1,2}):([0-9a-fA-F]{1,2})\.([0-7])$`)
	// bus-function or bus-device-function, decimal
	dashAddressPattern = regexp.MustCompile(`^(\d{1,3})-(\d{1,2})(?:-(\d{1,2}))?$`)
	// 0000:1a:00.1 Network controller: Intel(R) Ethernet Controller X710 [vmnic3]
	listingPattern = regexp.MustCompile(`^\s*([0-9a-fA-F]{4}:[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-7])\s.*?(?:\[([^\]]+)\])?\s*$`)
)

// Address identifies one PCI function.
type Address struct {
	Domain   uint16 `json:"domain"`
	Bus      uint8  `json:"bus"`
	Device   uint8  `json:"device"`
	Function uint8  `json:"function"`
}

// String renders the canonical DDDD:BB:DD.F form in lowercase hex.
func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Device, a.Function)
}

// OrderingKey is bus-major, function-minor: bus + function/10.
// The domain and device do not participate; within one host they do not
// disambiguate ports that share a bus and function.
func (a Address) OrderingKey() float64 {
	return float64(a.Bus) + float64(a.Function)/10
}

// Less orders by OrderingKey, then by device and domain so that sorting is
// deterministic even for addresses with equal keys.
func (a Address) Less(b Address) bool {
	if ka, kb := a.OrderingKey(), b.OrderingKey(); ka != kb {
		return ka < kb
	}
	if a.Device != b.Device {
		return a.Device < b.Device
	}
	return a.Domain < b.Domain
}

// SameDevice reports whether a and b are functions of one physical device.
func (a Address) SameDevice(b Address) bool {
	return a.Domain == b.Domain && a.Bus == b.Bus && a.Device == b.Device
}

// DevicePrefix returns the DDDD:BB:DD part shared by sibling functions.
func (a Address) DevicePrefix() string {
	return fmt.Sprintf("%04x:%02x:%02x", a.Domain, a.Bus, a.Device)
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse accepts any of the supported textual conventions and returns the
// normalized address.
func Parse(text string) (Address, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Address{}, formatErrorf(text, "empty address")
	}

	if m := hexAddressPattern.FindStringSubmatch(s); m != nil {
		return fromHex(text, m[1], m[2], m[3], m[4])
	}
	if m := dashAddressPattern.FindStringSubmatch(s); m != nil {
		return fromDecimalDash(text, m[1], m[2], m[3])
	}
	if addr, _, err := ParseListing(s); err == nil {
		return addr, nil
	}

	return Address{}, formatErrorf(text, "unrecognized address form")
}

// ParseListing extracts the address and the bracketed interface name, if
// any, from one lspci listing line.
func ParseListing(line string) (Address, string, error) {
	m := listingPattern.FindStringSubmatch(line)
	if m == nil {
		return Address{}, "", formatErrorf(line, "not a PCI listing line")
	}
	addr, err := Parse(m[1])
	if err != nil {
		return Address{}, "", err
	}
	return addr, m[2], nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(text string) Address {
	addr, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return addr
}

func fromHex(raw, domain, bus, device, function string) (Address, error) {
	var addr Address
	if domain != "" {
		d, err := strconv.ParseUint(domain, 16, 16)
		if err != nil {
			return Address{}, formatErrorf(raw, "domain: %v", err)
		}
		addr.Domain = uint16(d)
	}

	b, err := strconv.ParseUint(bus, 16, 8)
	if err != nil {
		return Address{}, formatErrorf(raw, "bus: %v", err)
	}
	d, err := strconv.ParseUint(device, 16, 8)
	if err != nil {
		return Address{}, formatErrorf(raw, "device: %v", err)
	}
	f, err := strconv.ParseUint(function, 16, 8)
	if err != nil {
		return Address{}, formatErrorf(raw, "function: %v", err)
	}

	addr.Bus, addr.Device, addr.Function = uint8(b), uint8(d), uint8(f)
	return addr, addr.validate(raw)
}

// fromDecimalDash handles "26-1" (bus-function) and "26-0-1"
// (bus-device-function).
func fromDecimalDash(raw, first, second, third string) (Address, error) {
	busText, deviceText, functionText := first, "0", second
	if third != "" {
		deviceText, functionText = second, third
	}

	b, err := strconv.ParseUint(busText, 10, 8)
	if err != nil {
		return Address{}, formatErrorf(raw, "bus: %v", err)
	}
	d, err := strconv.ParseUint(deviceText, 10, 8)
	if err != nil {
		return Address{}, formatErrorf(raw, "device: %v", err)
	}
	f, err := strconv.ParseUint(functionText, 10, 8)
	if err != nil {
		return Address{}, formatErrorf(raw, "function: %v", err)
	}

	addr := Address{Bus: uint8(b), Device: uint8(d), Function: uint8(f)}
	return addr, addr.validate(raw)
}

func (a Address) validate(raw string) error {
	if a.Device > maxDevice {
		return formatErrorf(raw, "device %d out of range", a.Device)
	}
	if a.Function > maxFunction {
		return formatErrorf(raw, "function %d out of range", a.Function)
	}
	return nil
}

func formatErrorf(raw, format string, args ...any) error {
	return fmt.Errorf("%w: pci address %q: %s", ErrFormat, raw, fmt.Sprintf(format, args...))
}
