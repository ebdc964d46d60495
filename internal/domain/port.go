package domain

import (
	"fmt"
	"strconv"
	"strings"

	"nictopo/internal/pci"
)

// PortRecord is one physical network port of a host
type PortRecord struct {
	PCI pci.Address `json:"pci"`
	// Orphan is set when no source ever reported an address for the port.
	// OrphanKey then holds the name or MAC it is known by.
	Orphan    bool   `json:"orphan,omitempty"`
	OrphanKey string `json:"orphan_key,omitempty"`

	Name            string    `json:"name,omitempty"`
	Driver          string    `json:"driver,omitempty"`
	DriverVersion   string    `json:"driver_version,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	MAC             string    `json:"mac,omitempty"`
	Link            LinkState `json:"link,omitempty"`
	Speed           string    `json:"configured_speed,omitempty"`
	Role            Role      `json:"role,omitempty"`
	NUMANode        *int      `json:"numa_node,omitempty"`
	MaxVFs          *int      `json:"max_vfs,omitempty"`
	ConfiguredVFs   *int      `json:"configured_vfs,omitempty"`
	VirtualSwitch   string    `json:"virtual_switch,omitempty"`
	Model           string    `json:"model,omitempty"`
	NICSlot         string    `json:"nic_slot,omitempty"`
	PortSlot        string    `json:"port_slot,omitempty"`
	SwitchName      string    `json:"switch_name,omitempty"`
	SwitchPort      string    `json:"switch_port,omitempty"`
	SwitchVLANs     string    `json:"switch_vlans,omitempty"`

	// Sources lists, per field, the source that last wrote it
	Sources map[Field]string `json:"sources,omitempty"`
}

// NewPortRecord creates an empty record for addr
func NewPortRecord(addr pci.Address) *PortRecord {
	return &PortRecord{PCI: addr, Sources: make(map[Field]string)}
}

// NewOrphanRecord creates a record for a port known only by name or MAC
func NewOrphanRecord(key string) *PortRecord {
	return &PortRecord{Orphan: true, OrphanKey: key, Sources: make(map[Field]string)}
}

// Set writes one field from its textual form. Numeric fields that do not
// parse and unknown roles are rejected with ErrFormat and leave the record
// untouched.
func (p *PortRecord) Set(field Field, text string) error {
	switch field {
	case FieldName:
		p.Name = text
	case FieldDriver:
		p.Driver = text
	case FieldDriverVersion:
		p.DriverVersion = text
	case FieldFirmwareVersion:
		p.FirmwareVersion = text
	case FieldMAC:
		p.MAC = NormalizeMAC(text)
	case FieldLink:
		switch LinkState(strings.ToLower(text)) {
		case LinkUp:
			p.Link = LinkUp
		case LinkDown:
			p.Link = LinkDown
		default:
			return fmt.Errorf("%w: link state %q", ErrFormat, text)
		}
	case FieldSpeed:
		p.Speed = text
	case FieldRole:
		role, ok := ParseRole(text)
		if !ok {
			return fmt.Errorf("%w: role %q", ErrFormat, text)
		}
		p.Role = role
	case FieldNUMANode:
		return setInt(&p.NUMANode, field, text)
	case FieldMaxVFs:
		return setInt(&p.MaxVFs, field, text)
	case FieldConfiguredVFs:
		return setInt(&p.ConfiguredVFs, field, text)
	case FieldVirtualSwitch:
		p.VirtualSwitch = text
	case FieldModel:
		p.Model = text
	case FieldNICSlot:
		p.NICSlot = text
	case FieldPortSlot:
		p.PortSlot = text
	case FieldSwitchName:
		p.SwitchName = text
	case FieldSwitchPort:
		p.SwitchPort = text
	case FieldSwitchVLANs:
		p.SwitchVLANs = text
	default:
		return fmt.Errorf("%w: unknown port field %q", ErrFormat, field)
	}
	return nil
}

// Get returns the textual form of a field and whether it has been set
func (p *PortRecord) Get(field Field) (string, bool) {
	switch field {
	case FieldName:
		return p.Name, p.Name != ""
	case FieldDriver:
		return p.Driver, p.Driver != ""
	case FieldDriverVersion:
		return p.DriverVersion, p.DriverVersion != ""
	case FieldFirmwareVersion:
		return p.FirmwareVersion, p.FirmwareVersion != ""
	case FieldMAC:
		return p.MAC, p.MAC != ""
	case FieldLink:
		return string(p.Link), p.Link != ""
	case FieldSpeed:
		return p.Speed, p.Speed != ""
	case FieldRole:
		return string(p.Role), p.Role != ""
	case FieldNUMANode:
		return intText(p.NUMANode)
	case FieldMaxVFs:
		return intText(p.MaxVFs)
	case FieldConfiguredVFs:
		return intText(p.ConfiguredVFs)
	case FieldVirtualSwitch:
		return p.VirtualSwitch, p.VirtualSwitch != ""
	case FieldModel:
		return p.Model, p.Model != ""
	case FieldNICSlot:
		return p.NICSlot, p.NICSlot != ""
	case FieldPortSlot:
		return p.PortSlot, p.PortSlot != ""
	case FieldSwitchName:
		return p.SwitchName, p.SwitchName != ""
	case FieldSwitchPort:
		return p.SwitchPort, p.SwitchPort != ""
	case FieldSwitchVLANs:
		return p.SwitchVLANs, p.SwitchVLANs != ""
	}
	return "", false
}

// Key returns the identity the record is stored under
func (p *PortRecord) Key() string {
	if p.Orphan {
		return p.OrphanKey
	}
	return p.PCI.String()
}

// ConfiguredVFCount returns the configured VF count, 0 when unknown
func (p *PortRecord) ConfiguredVFCount() int {
	if p.ConfiguredVFs == nil {
		return 0
	}
	return *p.ConfiguredVFs
}

// Clone returns a deep copy
func (p *PortRecord) Clone() PortRecord {
	c := *p
	c.NUMANode = cloneInt(p.NUMANode)
	c.MaxVFs = cloneInt(p.MaxVFs)
	c.ConfiguredVFs = cloneInt(p.ConfiguredVFs)
	c.Sources = make(map[Field]string, len(p.Sources))
	for k, v := range p.Sources {
		c.Sources[k] = v
	}
	return c
}

func setInt(dst **int, field Field, text string) error {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("%w: %s %q is not an integer", ErrFormat, field, text)
	}
	*dst = &n
	return nil
}

func intText(v *int) (string, bool) {
	if v == nil {
		return "", false
	}
	return strconv.Itoa(*v), true
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
