package domain

import "time"

// HostTarget is the inbound description of one host to reconcile
type HostTarget struct {
	Name    string `json:"name" yaml:"name"`
	Cluster string `json:"cluster,omitempty" yaml:"cluster,omitempty"`
	// Address is where the CLI adapter connects; defaults to Name
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	// ManagementAddress is the out-of-band controller address
	ManagementAddress string `json:"management_address,omitempty" yaml:"management_address,omitempty"`
	Model             string `json:"model,omitempty" yaml:"model,omitempty"`
}

// ShortName returns the host name without its domain
func (h HostTarget) ShortName() string {
	for i := 0; i < len(h.Name); i++ {
		if h.Name[i] == '.' && i > 0 {
			return h.Name[:i]
		}
	}
	return h.Name
}

// CLIAddress returns the address the CLI adapter dials
func (h HostTarget) CLIAddress() string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name
}

// HostFact names a host-level value reported by an adapter
type HostFact string

const (
	FactModel               HostFact = "model"
	FactESXiVersion         HostFact = "esxi_version"
	FactESXiBuild           HostFact = "esxi_build"
	FactBIOSVersion         HostFact = "bios_version"
	FactCPLDVersion         HostFact = "cpld_version"
	FactIDRACVersion        HostFact = "idrac_version"
	FactISMVersion          HostFact = "ism_version"
	FactNUMANodes           HostFact = "numa_nodes"
	FactObservedVFVector    HostFact = "observed_vf_vector"
	FactObservedTrustVector HostFact = "observed_trust_vector"
)

// Vectors holds the calculated and observed SR-IOV provisioning vectors
type Vectors struct {
	Family          string `json:"family" yaml:"family"`
	Calculated      string `json:"calculated" yaml:"calculated"`
	CalculatedTrust string `json:"calculated_trust" yaml:"calculated_trust"`
	Observed        string `json:"observed,omitempty" yaml:"observed,omitempty"`
	ObservedTrust   string `json:"observed_trust,omitempty" yaml:"observed_trust,omitempty"`
	// FamilyDriverVersion is the driver version shared by the family's
	// ports, empty when unknown or mixed
	FamilyDriverVersion string `json:"family_driver_version,omitempty" yaml:"family_driver_version,omitempty"`
}

// AdapterState is the outcome of one adapter for one host
type AdapterState string

const (
	AdapterOK      AdapterState = "ok"
	AdapterPartial AdapterState = "partial"
	AdapterFailed  AdapterState = "failed"
	AdapterSkipped AdapterState = "skipped"
)

// AdapterStatus records how one adapter fared
type AdapterStatus struct {
	Source       string        `json:"source" yaml:"source"`
	State        AdapterState  `json:"state" yaml:"state"`
	Reason       string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Observations int           `json:"observations" yaml:"observations"`
	Warnings     []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
}

// HostReport is the outbound result of one host's reconciliation
type HostReport struct {
	RunID      string              `json:"run_id" yaml:"run_id"`
	Host       HostTarget          `json:"host" yaml:"host"`
	StartedAt  time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time           `json:"finished_at" yaml:"finished_at"`
	Facts      map[HostFact]string `json:"facts,omitempty" yaml:"facts,omitempty"`
	Ports      []PortRecord        `json:"ports" yaml:"ports"`
	Vectors    Vectors             `json:"vectors" yaml:"vectors"`
	Adapters   []AdapterStatus     `json:"adapters" yaml:"adapters"`
	Anomalies  []AnomalyRecord     `json:"anomalies" yaml:"anomalies"`
	// Unresolved counts observations that matched no port after the retry pass
	Unresolved int `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
}

// Fact returns a host fact or ""
func (r *HostReport) Fact(f HostFact) string {
	if r.Facts == nil {
		return ""
	}
	return r.Facts[f]
}
