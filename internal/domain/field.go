package domain

// Field names one attribute of a PortRecord
type Field string

const (
	FieldName            Field = "name"
	FieldDriver          Field = "driver"
	FieldDriverVersion   Field = "driver_version"
	FieldFirmwareVersion Field = "firmware_version"
	FieldMAC             Field = "mac"
	FieldLink            Field = "link"
	FieldSpeed           Field = "configured_speed"
	FieldRole            Field = "role"
	FieldNUMANode        Field = "numa_node"
	FieldMaxVFs          Field = "max_vfs"
	FieldConfiguredVFs   Field = "configured_vfs"
	FieldVirtualSwitch   Field = "virtual_switch"
	FieldModel           Field = "model"
	FieldNICSlot         Field = "nic_slot"
	FieldPortSlot        Field = "port_slot"
	FieldSwitchName      Field = "switch_name"
	FieldSwitchPort      Field = "switch_port"
	FieldSwitchVLANs     Field = "switch_vlans"

	// FieldPCI binds a MAC-, slot- or name-keyed observation to an address.
	// It is consumed by the registry and never stored as an attribute.
	FieldPCI Field = "pci"
)

// PortFields lists the attributes of a PortRecord in report column order
var PortFields = []Field{
	FieldName,
	FieldDriver,
	FieldDriverVersion,
	FieldFirmwareVersion,
	FieldMAC,
	FieldLink,
	FieldSpeed,
	FieldRole,
	FieldNUMANode,
	FieldMaxVFs,
	FieldConfiguredVFs,
	FieldVirtualSwitch,
	FieldModel,
	FieldNICSlot,
	FieldPortSlot,
	FieldSwitchName,
	FieldSwitchPort,
	FieldSwitchVLANs,
}

// IsPortField reports whether f is a settable PortRecord attribute
func IsPortField(f Field) bool {
	for _, pf := range PortFields {
		if pf == f {
			return true
		}
	}
	return false
}

// Role is the function a port serves in the host's switching fabric
type Role string

const (
	RolePlain       Role = "plain"
	RoleDVS         Role = "dVS"
	RoleVSwitch     Role = "vSwitch"
	RoleSRIOV       Role = "SR-IOV"
	RolePassthrough Role = "PCI-PT"
)

// ParseRole validates a role name
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RolePlain, RoleDVS, RoleVSwitch, RoleSRIOV, RolePassthrough:
		return r, true
	}
	return "", false
}

// Assigned reports whether the role places the port in service
func (r Role) Assigned() bool {
	return r != "" && r != RolePlain
}

// LinkState is the reported physical link state
type LinkState string

const (
	LinkUp   LinkState = "up"
	LinkDown LinkState = "down"
)

// SpeedAuto is the configured speed of a port left at auto-negotiation
const SpeedAuto = "Auto"
