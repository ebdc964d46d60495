// Package inventory reads the hypervisor inventory document.
//
// The document stands in for the virtualization manager's object graph: one
// entry per host carrying its hardware summary, physical NICs, virtual
// switch configuration and PCI passthrough table, shaped after the
// manager's HostSystem properties. JSON documents are accepted as well,
// since YAML is a superset of JSON.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"nictopo/internal/domain"
)

// ErrHostNotFound is returned for hosts the document does not describe
var ErrHostNotFound = errors.New("host not in inventory")

// Provider is the read-only view of the inventory the engine consumes
type Provider interface {
	// Hosts lists every host, sorted by cluster then name
	Hosts(ctx context.Context) ([]domain.HostTarget, error)
	// Host returns the configuration of one host
	Host(ctx context.Context, name string) (*HostYAML, error)
}

// InventoryYAML represents the inventory file structure
type InventoryYAML struct {
	Version  string                  `yaml:"version"`
	Metadata *MetadataYAML           `yaml:"metadata,omitempty"`
	Clusters map[string]*ClusterYAML `yaml:"clusters,omitempty"`
	Entries  map[string]*HostYAML    `yaml:"hosts"`

	clusterOf map[string]string
}

// MetadataYAML represents the metadata section
type MetadataYAML struct {
	Description string `yaml:"description,omitempty"`
	Collected   string `yaml:"collected,omitempty"`
}

// ClusterYAML groups hosts
type ClusterYAML struct {
	Members     []string `yaml:"members"`
	Description string   `yaml:"description,omitempty"`
}

// HostYAML is one host's configuration
type HostYAML struct {
	Address           string            `yaml:"address,omitempty"`
	ManagementAddress string            `yaml:"management_address,omitempty"`
	Hardware          *HardwareYAML     `yaml:"hardware,omitempty"`
	Product           *ProductYAML      `yaml:"product,omitempty"`
	NUMANodes         int               `yaml:"numa_nodes,omitempty"`
	Network           *NetworkYAML      `yaml:"network,omitempty"`
	PCIDevices        []PCIDeviceYAML   `yaml:"pci_devices,omitempty"`
	Passthrough       []PassthroughYAML `yaml:"passthrough,omitempty"`
}

// HardwareYAML is the host hardware summary
type HardwareYAML struct {
	Vendor      string `yaml:"vendor,omitempty"`
	Model       string `yaml:"model,omitempty"`
	BIOSVersion string `yaml:"bios_version,omitempty"`
}

// ProductYAML is the hypervisor release
type ProductYAML struct {
	Version string `yaml:"version,omitempty"`
	Build   string `yaml:"build,omitempty"`
}

// NetworkYAML is the host network configuration
type NetworkYAML struct {
	PNICs         []PNICYAML        `yaml:"pnics,omitempty"`
	VSwitches     []VSwitchYAML     `yaml:"vswitches,omitempty"`
	ProxySwitches []ProxySwitchYAML `yaml:"proxy_switches,omitempty"`
}

// PNICYAML is a physical NIC as the hypervisor sees it.
// LinkSpeedMb is zero when the link is down; ConfiguredSpeedMb is zero when
// the port is left at auto-negotiation.
type PNICYAML struct {
	Device            string `yaml:"device"`
	Driver            string `yaml:"driver,omitempty"`
	MAC               string `yaml:"mac,omitempty"`
	PCI               string `yaml:"pci"`
	LinkSpeedMb       int    `yaml:"link_speed_mb,omitempty"`
	ConfiguredSpeedMb int    `yaml:"configured_speed_mb,omitempty"`
}

// VSwitchYAML is a standard virtual switch and its uplinks
type VSwitchYAML struct {
	Name        string   `yaml:"name"`
	ActiveNICs  []string `yaml:"active_nics,omitempty"`
	StandbyNICs []string `yaml:"standby_nics,omitempty"`
}

// ProxySwitchYAML is the host proxy of a distributed switch. PNICs holds
// uplink keys such as "key-vim.host.PhysicalNic-vmnic2".
type ProxySwitchYAML struct {
	Name  string   `yaml:"dvs_name"`
	PNICs []string `yaml:"pnics,omitempty"`
}

// PCIDeviceYAML is one entry of the host PCI device list
type PCIDeviceYAML struct {
	ID         string `yaml:"id"`
	ClassID    int    `yaml:"class_id,omitempty"`
	VendorName string `yaml:"vendor_name,omitempty"`
	DeviceName string `yaml:"device_name,omitempty"`
}

// PassthroughYAML is one entry of the host PCI passthrough table. SR-IOV
// fields are only meaningful when SRIOVCapable is set.
type PassthroughYAML struct {
	ID              string `yaml:"id"`
	PassthruEnabled bool   `yaml:"passthru_enabled,omitempty"`
	PassthruActive  bool   `yaml:"passthru_active,omitempty"`
	DependentDevice string `yaml:"dependent_device,omitempty"`
	SRIOVCapable    bool   `yaml:"sriov_capable,omitempty"`
	SRIOVEnabled    bool   `yaml:"sriov_enabled,omitempty"`
	SRIOVActive     bool   `yaml:"sriov_active,omitempty"`
	MaxVFs          *int   `yaml:"max_virtual_function_supported,omitempty"`
	NumVFs          *int   `yaml:"num_virtual_function,omitempty"`
}

// NetworkClassID is the PCI class of Ethernet controllers
const NetworkClassID = 0x0200

// LoadYAML loads the inventory from a YAML or JSON file
func LoadYAML(path string) (*InventoryYAML, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	return ParseYAML(data)
}

// ParseYAML parses the inventory from YAML or JSON bytes
func ParseYAML(data []byte) (*InventoryYAML, error) {
	var inv InventoryYAML
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}
	if inv.Entries == nil {
		inv.Entries = make(map[string]*HostYAML)
	}

	inv.buildClusterMembership()
	return &inv, nil
}

// buildClusterMembership records which cluster each host belongs to.
// A host listed in several clusters keeps the first in name order.
func (inv *InventoryYAML) buildClusterMembership() {
	inv.clusterOf = make(map[string]string)

	names := make([]string, 0, len(inv.Clusters))
	for name := range inv.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := inv.Clusters[name]
		if c == nil {
			continue
		}
		for _, member := range c.Members {
			if _, ok := inv.clusterOf[member]; !ok {
				inv.clusterOf[member] = name
			}
		}
	}
}

// Hosts implements Provider
func (inv *InventoryYAML) Hosts(ctx context.Context) ([]domain.HostTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hosts := make([]domain.HostTarget, 0, len(inv.Entries))
	for name, h := range inv.Entries {
		hosts = append(hosts, convertHost(name, inv.clusterOf[name], h))
	}

	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Cluster != hosts[j].Cluster {
			return hosts[i].Cluster < hosts[j].Cluster
		}
		return hosts[i].Name < hosts[j].Name
	})
	return hosts, nil
}

// Host implements Provider
func (inv *InventoryYAML) Host(ctx context.Context, name string) (*HostYAML, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h, ok := inv.Entries[name]
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}
	return h, nil
}

// Select narrows hosts to those whose name or cluster matches one of the
// filters. No filters selects everything.
func Select(hosts []domain.HostTarget, filters []string) []domain.HostTarget {
	if len(filters) == 0 {
		return hosts
	}

	var selected []domain.HostTarget
	for _, h := range hosts {
		for _, f := range filters {
			if f == h.Name || f == h.ShortName() || f == h.Cluster {
				selected = append(selected, h)
				break
			}
		}
	}
	return selected
}

func convertHost(name, cluster string, h *HostYAML) domain.HostTarget {
	target := domain.HostTarget{
		Name:    name,
		Cluster: cluster,
	}
	if h == nil {
		return target
	}

	target.Address = h.Address
	target.ManagementAddress = h.ManagementAddress
	if h.Hardware != nil {
		target.Model = strings.TrimSpace(h.Hardware.Model)
	}
	return target
}
