package service

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

// port builds a record at addr from field texts
func port(t *testing.T, addr string, fields map[domain.Field]string) domain.PortRecord {
	t.Helper()
	rec := domain.NewPortRecord(pci.MustParse(addr))
	for f, v := range fields {
		if err := rec.Set(f, v); err != nil {
			t.Fatalf("Set(%s, %q) error: %v", f, v, err)
		}
	}
	return *rec
}

func TestResolveSiblings(t *testing.T) {
	t.Run("name derived from sibling number and function drift", func(t *testing.T) {
		ports := []domain.PortRecord{
			port(t, "0000:3b:00.0", map[domain.Field]string{domain.FieldName: "vmnic3"}),
			port(t, "0000:3b:00.1", map[domain.Field]string{domain.FieldRole: "PCI-PT"}),
		}
		obs := ResolveSiblings(ports)
		if len(obs) != 1 {
			t.Fatalf("expected 1 observation, got %d", len(obs))
		}
		if obs[0].Key != domain.ByPCI(pci.MustParse("0000:3b:00.1")) {
			t.Errorf("key = %s", obs[0].Key)
		}
		if obs[0].Source != DerivedSource {
			t.Errorf("source = %q, want %q", obs[0].Source, DerivedSource)
		}
		if got := obs[0].Get(domain.FieldName).Text; got != "vmnic2" {
			t.Errorf("name = %q, want vmnic2", got)
		}
	})

	t.Run("single function device stays unnamed", func(t *testing.T) {
		ports := []domain.PortRecord{
			port(t, "0000:18:00.0", map[domain.Field]string{domain.FieldName: "vmnic0"}),
			port(t, "0000:5e:00.0", map[domain.Field]string{domain.FieldRole: "PCI-PT"}),
		}
		if obs := ResolveSiblings(ports); len(obs) != 0 {
			t.Errorf("expected no observations, got %+v", obs)
		}
	})

	t.Run("named and non-passthrough ports are left alone", func(t *testing.T) {
		ports := []domain.PortRecord{
			port(t, "0000:3b:00.0", map[domain.Field]string{domain.FieldName: "vmnic3"}),
			port(t, "0000:3b:00.1", map[domain.Field]string{domain.FieldRole: "PCI-PT", domain.FieldName: "vmnic7"}),
			port(t, "0000:3b:00.2", map[domain.Field]string{domain.FieldRole: "SR-IOV"}),
		}
		if obs := ResolveSiblings(ports); len(obs) != 0 {
			t.Errorf("expected no observations, got %+v", obs)
		}
	})

	t.Run("sibling without a numeric suffix", func(t *testing.T) {
		ports := []domain.PortRecord{
			port(t, "0000:3b:00.0", map[domain.Field]string{domain.FieldName: "uplink"}),
			port(t, "0000:3b:00.1", map[domain.Field]string{domain.FieldRole: "PCI-PT"}),
		}
		if obs := ResolveSiblings(ports); len(obs) != 0 {
			t.Errorf("expected no observations, got %+v", obs)
		}
	})
}

func TestCalculateVectors(t *testing.T) {
	ports := []domain.PortRecord{
		port(t, "0000:11:00.0", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldRole: "SR-IOV", domain.FieldConfiguredVFs: "2"}),
		port(t, "0000:10:00.1", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldRole: "plain", domain.FieldConfiguredVFs: "0"}),
		port(t, "0000:10:00.0", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldRole: "SR-IOV", domain.FieldConfiguredVFs: "4"}),
		port(t, "0000:5e:00.0", map[domain.Field]string{domain.FieldDriver: "nmlx5_core", domain.FieldRole: "SR-IOV", domain.FieldConfiguredVFs: "8"}),
	}

	v := CalculateVectors(ports, "i40en")
	if v.Calculated != "4,0,2" {
		t.Errorf("calculated = %q, want 4,0,2", v.Calculated)
	}
	if v.CalculatedTrust != "1,0,1" {
		t.Errorf("calculated trust = %q, want 1,0,1", v.CalculatedTrust)
	}
	if v.Family != "i40en" {
		t.Errorf("family = %q", v.Family)
	}

	t.Run("vfs configured on a non sriov port count as zero", func(t *testing.T) {
		ports := []domain.PortRecord{
			port(t, "0000:10:00.0", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldRole: "vSwitch", domain.FieldConfiguredVFs: "4"}),
			port(t, "0000:10:00.1", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldRole: "SR-IOV", domain.FieldConfiguredVFs: "16"}),
		}
		v := CalculateVectors(ports, "i40en")
		if v.Calculated != "0,16" || v.CalculatedTrust != "0,1" {
			t.Errorf("vectors = %q / %q, want 0,16 / 0,1", v.Calculated, v.CalculatedTrust)
		}
	})

	t.Run("family driver version", func(t *testing.T) {
		same := []domain.PortRecord{
			port(t, "0000:10:00.0", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldDriverVersion: "1.10.6"}),
			port(t, "0000:10:00.1", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldDriverVersion: "1.10.6"}),
		}
		if got := CalculateVectors(same, "i40en").FamilyDriverVersion; got != "1.10.6" {
			t.Errorf("family version = %q, want 1.10.6", got)
		}

		mixed := append(same, port(t, "0000:11:00.0", map[domain.Field]string{domain.FieldDriver: "i40en", domain.FieldDriverVersion: "1.7.17"}))
		if got := CalculateVectors(mixed, "i40en").FamilyDriverVersion; got != "" {
			t.Errorf("mixed family version = %q, want empty", got)
		}
	})

	t.Run("no family ports", func(t *testing.T) {
		v := CalculateVectors(nil, "i40en")
		if v.Calculated != "" || v.CalculatedTrust != "" {
			t.Errorf("vectors = %q / %q, want empty", v.Calculated, v.CalculatedTrust)
		}
	})
}

func TestNUMATable(t *testing.T) {
	table := NUMATable{Thresholds: []int{130}}

	tests := []struct {
		bus  uint8
		want int
	}{
		{0x20, 0},
		{0x90, 1},
		{0x82, 0},
		{0x83, 1},
		{0xff, 1},
	}
	for _, tt := range tests {
		if got := table.Node(tt.bus); got != tt.want {
			t.Errorf("Node(%#x) = %d, want %d", tt.bus, got, tt.want)
		}
	}

	four := NUMATable{Thresholds: []int{0x3f, 0x7f, 0xbf}}
	if four.Nodes() != 4 {
		t.Errorf("Nodes() = %d, want 4", four.Nodes())
	}
	if got := four.Node(0x90); got != 2 {
		t.Errorf("Node(0x90) = %d, want 2", got)
	}
	if got := four.Node(0xd8); got != 3 {
		t.Errorf("Node(0xd8) = %d, want 3", got)
	}
}

func TestAssignNUMA(t *testing.T) {
	table := NUMATable{Thresholds: []int{130}}
	ports := []domain.PortRecord{
		port(t, "0000:18:00.0", nil),
		port(t, "0000:af:00.0", nil),
		*domain.NewOrphanRecord("vmnic9"),
	}

	obs, ok := AssignNUMA(ports, table, 2)
	if !ok {
		t.Fatal("two nodes should be supported")
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(obs))
	}
	if obs[0].Get(domain.FieldNUMANode).Text != "0" || obs[1].Get(domain.FieldNUMANode).Text != "1" {
		t.Errorf("unexpected assignment: %+v", obs)
	}

	if _, ok := AssignNUMA(ports, table, 0); !ok {
		t.Error("an unknown node count should be assigned")
	}

	obs, ok = AssignNUMA(ports, table, 4)
	if ok || len(obs) != 0 {
		t.Error("four nodes must not be classified by a two node table")
	}
}
