package adapter

import (
	"context"
	"errors"
	"testing"

	"nictopo/internal/domain"
	"nictopo/internal/inventory"
	"nictopo/internal/pci"
)

const hypervisorInventory = `
version: "1"
hosts:
  esx01.lab.local:
    hardware:
      model: PowerEdge R740
      bios_version: 2.8.1
    product:
      version: 6.7.0
      build: "15256549"
    numa_nodes: 2
    network:
      pnics:
        - {device: vmnic0, driver: i40en, mac: "3c:fd:fe:aa:bb:00", pci: "0000:18:00.0", link_speed_mb: 10000, configured_speed_mb: 10000}
        - {device: vmnic1, driver: i40en, mac: "3c:fd:fe:aa:bb:01", pci: "0000:18:00.1"}
        - {device: vmnic2, driver: i40en, mac: "3c:fd:fe:aa:bb:02", pci: "0000:18:00.2", link_speed_mb: 10000}
        - {device: vmnic3, driver: i40en, mac: "3c:fd:fe:aa:bb:03", pci: "0000:18:00.3", link_speed_mb: 10000}
        - {device: vusb0, driver: cdce, pci: "0000:00:14.0"}
      vswitches:
        - name: vSwitch0
          active_nics: [vmnic0]
          standby_nics: [vmnic9]
      proxy_switches:
        - dvs_name: DVS_EDGE
          pnics: ["key-vim.host.PhysicalNic-vmnic3", "broken"]
    pci_devices:
      - {id: "0000:18:00.0", class_id: 512, device_name: "Ethernet Controller X710 for 10GbE SFP+"}
      - {id: "0000:18:00.1", class_id: 512, device_name: "Ethernet Controller X710 for 10GbE SFP+"}
      - {id: "0000:5e:00.0", class_id: 512, device_name: "ConnectX-5"}
      - {id: "0000:af:00.0", class_id: 768, device_name: "Tesla V100"}
    passthrough:
      - {id: "0000:18:00.1", sriov_capable: true, sriov_enabled: true, sriov_active: true, max_virtual_function_supported: 64, num_virtual_function: 8}
      - {id: "0000:18:00.2", sriov_capable: true, num_virtual_function: 0}
      - {id: "0000:5e:00.0", passthru_enabled: true, passthru_active: true, dependent_device: "0000:5e:00.0"}
      - {id: "0000:af:00.0", passthru_enabled: true, passthru_active: true, dependent_device: "0000:af:00.0"}
      - {id: "not-an-address"}
`

func hypervisorResult(t *testing.T) Result {
	t.Helper()
	inv, err := inventory.ParseYAML([]byte(hypervisorInventory))
	if err != nil {
		t.Fatalf("ParseYAML() error: %v", err)
	}
	a := NewHypervisorAdapter(inv)
	return a.Collect(context.Background(), domain.HostTarget{Name: "esx01.lab.local"}, domain.Credentials{})
}

// observationsFor returns the observations keyed to key, in emission order
func observationsFor(r Result, key domain.MatchKey) []domain.Observation {
	var out []domain.Observation
	for _, obs := range r.Observations {
		if obs.Key == key {
			out = append(out, obs)
		}
	}
	return out
}

func TestHypervisorAdapter_Facts(t *testing.T) {
	r := hypervisorResult(t)

	want := map[domain.HostFact]string{
		domain.FactModel:       "PowerEdge R740",
		domain.FactBIOSVersion: "2.8.1",
		domain.FactESXiVersion: "6.7.0",
		domain.FactESXiBuild:   "15256549",
		domain.FactNUMANodes:   "2",
	}
	for fact, v := range want {
		if r.Facts[fact] != v {
			t.Errorf("fact %s = %q, want %q", fact, r.Facts[fact], v)
		}
	}
}

func TestHypervisorAdapter_PNICs(t *testing.T) {
	r := hypervisorResult(t)

	obs := observationsFor(r, domain.ByPCI(pci.MustParse("0000:18:00.0")))
	if len(obs) == 0 {
		t.Fatal("expected observations for vmnic0")
	}
	first := obs[0]
	checks := map[domain.Field]string{
		domain.FieldName:  "vmnic0",
		domain.FieldLink:  "up",
		domain.FieldSpeed: "10000",
		domain.FieldRole:  "plain",
		domain.FieldModel: "Ethernet_Controller_X710_for_10GbE_SFP+",
	}
	for field, v := range checks {
		if got := first.Get(field); got.Text != v {
			t.Errorf("%s = %q, want %q", field, got.Text, v)
		}
	}

	vmnic1 := observationsFor(r, domain.ByPCI(pci.MustParse("0000:18:00.1")))[0]
	if vmnic1.Get(domain.FieldLink).Text != "down" {
		t.Error("vmnic1 without link speed should be down")
	}
	if vmnic1.Get(domain.FieldSpeed).Text != domain.SpeedAuto {
		t.Errorf("vmnic1 speed = %q, want Auto", vmnic1.Get(domain.FieldSpeed).Text)
	}

	if len(observationsFor(r, domain.ByPCI(pci.MustParse("0000:00:14.0")))) != 0 {
		t.Error("non-vmnic devices must not be reported")
	}
}

func TestHypervisorAdapter_Passthrough(t *testing.T) {
	r := hypervisorResult(t)

	// SR-IOV role after the plain seed, with max and configured VFs
	obs := observationsFor(r, domain.ByPCI(pci.MustParse("0000:18:00.1")))
	if len(obs) != 2 {
		t.Fatalf("expected seed and passthrough observations, got %d", len(obs))
	}
	sriov := obs[1]
	if sriov.Get(domain.FieldRole).Text != string(domain.RoleSRIOV) {
		t.Errorf("role = %q, want SR-IOV", sriov.Get(domain.FieldRole).Text)
	}
	if sriov.Get(domain.FieldMaxVFs).Text != "64" || sriov.Get(domain.FieldConfiguredVFs).Text != "8" {
		t.Errorf("unexpected vf counts: %+v", sriov.Fields)
	}

	// SR-IOV capable but disabled: configured VFs only, no role
	obs = observationsFor(r, domain.ByPCI(pci.MustParse("0000:18:00.2")))
	last := obs[len(obs)-1]
	if last.Get(domain.FieldRole).Present {
		t.Error("disabled SR-IOV must not assign a role")
	}
	if last.Get(domain.FieldConfiguredVFs).Text != "0" {
		t.Errorf("configured vfs = %q, want 0", last.Get(domain.FieldConfiguredVFs).Text)
	}

	// Network-class passthrough device that is not a vmnic
	obs = observationsFor(r, domain.ByPCI(pci.MustParse("0000:5e:00.0")))
	if len(obs) != 1 || obs[0].Get(domain.FieldRole).Text != string(domain.RolePassthrough) {
		t.Errorf("expected a PCI-PT observation for the ConnectX-5, got %+v", obs)
	}

	// GPUs are not network ports
	if len(observationsFor(r, domain.ByPCI(pci.MustParse("0000:af:00.0")))) != 0 {
		t.Error("non-network passthrough devices must be ignored")
	}

	// The malformed passthrough id and the malformed uplink key
	if len(r.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", r.Warnings)
	}
}

func TestHypervisorAdapter_Switches(t *testing.T) {
	r := hypervisorResult(t)

	obs := observationsFor(r, domain.ByPCI(pci.MustParse("0000:18:00.3")))
	last := obs[len(obs)-1]
	if last.Get(domain.FieldRole).Text != string(domain.RoleDVS) || last.Get(domain.FieldVirtualSwitch).Text != "DVS_EDGE" {
		t.Errorf("vmnic3 = %+v, want dVS on DVS_EDGE", last.Fields)
	}

	obs = observationsFor(r, domain.ByPCI(pci.MustParse("0000:18:00.0")))
	last = obs[len(obs)-1]
	if last.Get(domain.FieldRole).Text != string(domain.RoleVSwitch) || last.Get(domain.FieldVirtualSwitch).Text != "vSwitch0" {
		t.Errorf("vmnic0 = %+v, want vSwitch on vSwitch0", last.Fields)
	}

	// Uplinks the host does not list are keyed by name for later resolution
	if len(observationsFor(r, domain.ByName("vmnic9"))) != 1 {
		t.Error("expected a name-keyed observation for vmnic9")
	}

	if r.State() != domain.AdapterPartial {
		t.Errorf("state = %s, want partial for the malformed entries", r.State())
	}
}

func TestHypervisorAdapter_UnknownHost(t *testing.T) {
	inv, err := inventory.ParseYAML([]byte(hypervisorInventory))
	if err != nil {
		t.Fatalf("ParseYAML() error: %v", err)
	}

	r := NewHypervisorAdapter(inv).Collect(context.Background(), domain.HostTarget{Name: "ghost"}, domain.Credentials{})
	if r.State() != domain.AdapterFailed {
		t.Fatalf("state = %s, want failed", r.State())
	}
	if !errors.Is(r.Err, inventory.ErrHostNotFound) {
		t.Errorf("expected ErrHostNotFound, got %v", r.Err)
	}
}

func TestUplinkName(t *testing.T) {
	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"key-vim.host.PhysicalNic-vmnic2", "vmnic2", true},
		{"vmnic2", "", false},
		{"key-vim.host.PhysicalNic-", "", false},
	}
	for _, tt := range tests {
		got, ok := uplinkName(tt.key)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("uplinkName(%q) = %q, %v; want %q, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}
}
