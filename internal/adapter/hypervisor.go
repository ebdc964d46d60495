package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"nictopo/internal/domain"
	"nictopo/internal/inventory"
	"nictopo/internal/pci"
)

// HypervisorName is the source tag of the hypervisor-configuration adapter
const HypervisorName = "hypervisor"

// HypervisorAdapter turns the hypervisor's configuration of a host into
// port observations
type HypervisorAdapter struct {
	provider inventory.Provider
}

// NewHypervisorAdapter creates an adapter reading from provider
func NewHypervisorAdapter(provider inventory.Provider) *HypervisorAdapter {
	return &HypervisorAdapter{provider: provider}
}

// Name returns the adapter identifier
func (h *HypervisorAdapter) Name() string {
	return HypervisorName
}

// Kind returns the adapter kind
func (h *HypervisorAdapter) Kind() Kind {
	return KindHypervisor
}

// Cost returns the adapter cost; the inventory is already in memory
func (h *HypervisorAdapter) Cost() int {
	return 10
}

// Collect implements Source
func (h *HypervisorAdapter) Collect(ctx context.Context, host domain.HostTarget, _ domain.Credentials) Result {
	cfg, err := h.provider.Host(ctx, host.Name)
	if err != nil {
		return Failed(HypervisorName, fmt.Errorf("load host configuration: %w", err))
	}

	result := NewResult(HypervisorName)
	collectHostFacts(&result, cfg)

	hc := newHostConfigView(cfg)

	// Physical NICs seed one record each
	for _, pnic := range hc.pnics {
		obs := domain.NewObservation(HypervisorName, domain.ByPCI(pnic.addr)).
			With(domain.FieldName, pnic.Device).
			Set(domain.FieldDriver, domain.NonEmpty(pnic.Driver)).
			Set(domain.FieldMAC, domain.NonEmpty(pnic.MAC)).
			With(domain.FieldLink, linkState(pnic.LinkSpeedMb)).
			With(domain.FieldSpeed, configuredSpeed(pnic.ConfiguredSpeedMb)).
			With(domain.FieldRole, string(domain.RolePlain)).
			Set(domain.FieldModel, domain.NonEmpty(hc.models[pnic.addr]))
		result.Add(obs)
	}

	// Passthrough table: SR-IOV state of known NICs, and PCI-PT devices
	for _, entry := range cfg.Passthrough {
		addr, err := pci.Parse(entry.ID)
		if err != nil {
			result.Warn(fmt.Sprintf("passthrough entry: %v", err))
			continue
		}
		_, isPNIC := hc.byAddr[addr]

		obs := domain.NewObservation(HypervisorName, domain.ByPCI(addr))
		switch {
		case isPNIC && entry.SRIOVCapable && entry.SRIOVEnabled && entry.SRIOVActive:
			obs = obs.With(domain.FieldRole, string(domain.RoleSRIOV)).
				Set(domain.FieldMaxVFs, intValue(entry.MaxVFs))
		case entry.PassthruEnabled && entry.PassthruActive && samePCI(entry.ID, entry.DependentDevice):
			if !isPNIC && !hc.network[addr] {
				continue
			}
			obs = obs.With(domain.FieldRole, string(domain.RolePassthrough)).
				Set(domain.FieldModel, domain.NonEmpty(hc.models[addr]))
		}

		if isPNIC && entry.SRIOVCapable {
			obs = obs.Set(domain.FieldConfiguredVFs, intValue(entry.NumVFs))
		}
		result.Add(obs)
	}

	if cfg.Network == nil {
		return result
	}

	// Distributed switch uplinks
	for _, dvs := range cfg.Network.ProxySwitches {
		for _, key := range dvs.PNICs {
			nic, ok := uplinkName(key)
			if !ok {
				result.Warn(fmt.Sprintf("proxy switch %s: malformed uplink key %q", dvs.Name, key))
				continue
			}
			result.Add(hc.switchObservation(nic, domain.RoleDVS, dvs.Name))
		}
	}

	// Standard switch uplinks, active then standby
	for _, vs := range cfg.Network.VSwitches {
		nics := append(append([]string{}, vs.ActiveNICs...), vs.StandbyNICs...)
		for _, nic := range nics {
			result.Add(hc.switchObservation(nic, domain.RoleVSwitch, vs.Name))
		}
	}

	return result
}

func collectHostFacts(result *Result, cfg *inventory.HostYAML) {
	if cfg.Hardware != nil {
		result.SetFact(domain.FactModel, cfg.Hardware.Model)
		result.SetFact(domain.FactBIOSVersion, cfg.Hardware.BIOSVersion)
	}
	if cfg.Product != nil {
		result.SetFact(domain.FactESXiVersion, cfg.Product.Version)
		result.SetFact(domain.FactESXiBuild, cfg.Product.Build)
	}
	if cfg.NUMANodes > 0 {
		result.SetFact(domain.FactNUMANodes, strconv.Itoa(cfg.NUMANodes))
	}
}

type pnicView struct {
	inventory.PNICYAML
	addr pci.Address
}

// hostConfigView indexes one host's configuration
type hostConfigView struct {
	pnics   []pnicView
	byAddr  map[pci.Address]string
	byName  map[string]pci.Address
	models  map[pci.Address]string
	network map[pci.Address]bool
}

func newHostConfigView(cfg *inventory.HostYAML) *hostConfigView {
	hc := &hostConfigView{
		byAddr:  make(map[pci.Address]string),
		byName:  make(map[string]pci.Address),
		models:  make(map[pci.Address]string),
		network: make(map[pci.Address]bool),
	}

	for _, dev := range cfg.PCIDevices {
		addr, err := pci.Parse(dev.ID)
		if err != nil {
			continue
		}
		hc.models[addr] = strings.ReplaceAll(strings.TrimSpace(dev.DeviceName), " ", "_")
		hc.network[addr] = dev.ClassID == inventory.NetworkClassID
	}

	if cfg.Network == nil {
		return hc
	}
	for _, pnic := range cfg.Network.PNICs {
		if !strings.Contains(pnic.Device, "vmnic") {
			continue
		}
		addr, err := pci.Parse(pnic.PCI)
		if err != nil {
			continue
		}
		hc.pnics = append(hc.pnics, pnicView{PNICYAML: pnic, addr: addr})
		hc.byAddr[addr] = pnic.Device
		hc.byName[pnic.Device] = addr
	}
	return hc
}

// switchObservation keys by address when the uplink is a known NIC and by
// name otherwise, leaving resolution to the registry
func (hc *hostConfigView) switchObservation(nic string, role domain.Role, switchName string) domain.Observation {
	key := domain.ByName(nic)
	if addr, ok := hc.byName[nic]; ok {
		key = domain.ByPCI(addr)
	}
	return domain.NewObservation(HypervisorName, key).
		With(domain.FieldRole, string(role)).
		With(domain.FieldVirtualSwitch, switchName)
}

// uplinkName extracts the NIC name from a proxy switch uplink key such as
// "key-vim.host.PhysicalNic-vmnic2"
func uplinkName(key string) (string, bool) {
	parts := strings.Split(key, "-")
	if len(parts) < 3 || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

func linkState(speedMb int) string {
	if speedMb > 0 {
		return string(domain.LinkUp)
	}
	return string(domain.LinkDown)
}

func configuredSpeed(speedMb int) string {
	if speedMb <= 0 {
		return domain.SpeedAuto
	}
	return strconv.Itoa(speedMb)
}

func intValue(v *int) domain.Value {
	if v == nil {
		return domain.Absent
	}
	return domain.Text(strconv.Itoa(*v))
}

func samePCI(a, b string) bool {
	x, err := pci.Parse(a)
	if err != nil {
		return false
	}
	y, err := pci.Parse(b)
	if err != nil {
		return false
	}
	return x == y
}
