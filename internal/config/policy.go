package config

import (
	"sort"
	"strconv"
	"strings"
)

// Policy is the set of expectations the consistency rules check against.
// Empty lists disable the corresponding check rather than fail every host.
type Policy struct {
	// SRIOVDriver is the driver family the VF vectors are computed over
	SRIOVDriver string `yaml:"sriov_driver"`
	// TrustVector restricts the trust-vector comparison to driver versions
	// that report it
	TrustVector TrustVectorPolicy `yaml:"trust_vector"`
	// DriverVersions maps a driver name to its allowed versions
	DriverVersions map[string][]string `yaml:"driver_versions"`
	// FirmwareMinimum maps a driver name to the lowest acceptable NIC
	// firmware, as major.minor.patch
	FirmwareMinimum map[string]string `yaml:"firmware_minimum"`
	// FirmwareVersions maps a NIC model substring or a driver name to the
	// firmware versions validated for it
	FirmwareVersions map[string][]string `yaml:"firmware_versions"`
	// FixedSpeedExempt lists NIC model substrings allowed to auto-negotiate
	FixedSpeedExempt []string        `yaml:"fixed_speed_exempt"`
	Components       ComponentPolicy `yaml:"components"`
	ESXiBuilds       []string        `yaml:"esxi_builds"`
	// ISMBuilds are allowed management-agent builds (the part after "-")
	ISMBuilds []string `yaml:"ism_builds"`
}

// TrustVectorPolicy names the driver versions that report trust vectors
type TrustVectorPolicy struct {
	Driver   string   `yaml:"driver"`
	Versions []string `yaml:"versions"`
}

// ComponentPolicy maps hardware models to allowed firmware versions
type ComponentPolicy struct {
	CPLD  map[string][]string `yaml:"cpld"`
	IDRAC map[string][]string `yaml:"idrac"`
	BIOS  map[string][]string `yaml:"bios"`
}

// DefaultPolicy returns the allow-lists validated for the current hardware
// generation
func DefaultPolicy() Policy {
	return Policy{
		SRIOVDriver: "i40en",
		TrustVector: TrustVectorPolicy{Driver: "i40en", Versions: []string{"1.10.6"}},
		DriverVersions: map[string][]string{
			"i40en": {"1.7.17", "1.10.6"},
		},
		FirmwareMinimum: map[string]string{
			"i40en": "18.8.9",
		},
		FirmwareVersions: map[string][]string{
			"i40en": {"18.8.9"},
		},
		FixedSpeedExempt: []string{"FlexFabric"},
		Components: ComponentPolicy{
			CPLD: map[string][]string{
				"PowerEdge R730": {"1.1.3"},
				"PowerEdge R740": {"1.1.3"},
				"PowerEdge R940": {"1.0.5"},
			},
			IDRAC: map[string][]string{
				"PowerEdge R730": {"2.70.70.70"},
				"PowerEdge R740": {"4.20.20.20", "4.22.00.00"},
				"PowerEdge R940": {"4.10.10.10"},
			},
			BIOS: map[string][]string{
				"PowerEdge R730": {"2.11.0"},
				"PowerEdge R740": {"2.7.7", "2.8.1"},
				"PowerEdge R940": {"2.5.4", "2.6.4"},
			},
		},
		ESXiBuilds: []string{"15256549"},
		ISMBuilds:  []string{"1949"},
	}
}

func (p *Policy) applyDefaults() {
	def := DefaultPolicy()
	if p.SRIOVDriver == "" {
		p.SRIOVDriver = def.SRIOVDriver
	}
	if p.TrustVector.Driver == "" {
		p.TrustVector.Driver = def.TrustVector.Driver
	}
	if p.TrustVector.Versions == nil {
		p.TrustVector.Versions = def.TrustVector.Versions
	}
	if p.DriverVersions == nil {
		p.DriverVersions = def.DriverVersions
	}
	if p.FirmwareMinimum == nil {
		p.FirmwareMinimum = def.FirmwareMinimum
	}
	if p.FirmwareVersions == nil {
		p.FirmwareVersions = def.FirmwareVersions
	}
	if p.FixedSpeedExempt == nil {
		p.FixedSpeedExempt = def.FixedSpeedExempt
	}
	if p.Components.CPLD == nil {
		p.Components.CPLD = def.Components.CPLD
	}
	if p.Components.IDRAC == nil {
		p.Components.IDRAC = def.Components.IDRAC
	}
	if p.Components.BIOS == nil {
		p.Components.BIOS = def.Components.BIOS
	}
	if p.ESXiBuilds == nil {
		p.ESXiBuilds = def.ESXiBuilds
	}
	if p.ISMBuilds == nil {
		p.ISMBuilds = def.ISMBuilds
	}
}

// DriverAllowed checks a driver version. checked is false when the policy
// has no list for the driver.
func (p *Policy) DriverAllowed(driver, version string) (checked, ok bool) {
	allowed, exists := p.DriverVersions[driver]
	if !exists || len(allowed) == 0 {
		return false, true
	}
	return true, contains(allowed, version)
}

// FirmwareAllowed checks NIC firmware against the driver's minimum. An
// unreported firmware version is not checked.
func (p *Policy) FirmwareAllowed(driver, version string) (checked, ok bool) {
	minimum, exists := p.FirmwareMinimum[driver]
	if !exists || minimum == "" || version == "" {
		return false, true
	}
	return true, CompareVersions(version, minimum) >= 0
}

// FirmwareVersionsFor returns the validated NIC firmware for a port, looked
// up by model first and then by driver
func (p *Policy) FirmwareVersionsFor(driver, model string) []string {
	if versions, ok := ModelEntry(p.FirmwareVersions, model); ok {
		return versions
	}
	return p.FirmwareVersions[driver]
}

// FirmwareListed checks NIC firmware against the allow-list. Ports with no
// list entry or no reported firmware are not checked.
func (p *Policy) FirmwareListed(driver, model, version string) (checked, ok bool) {
	allowed := p.FirmwareVersionsFor(driver, model)
	if len(allowed) == 0 || version == "" {
		return false, true
	}
	return true, contains(allowed, version)
}

// ComponentAllowed checks a firmware component version for a model. Models
// without an entry are not checked.
func ComponentAllowed(list map[string][]string, model, version string) (checked, ok bool) {
	allowed, exists := ModelEntry(list, model)
	if !exists {
		return false, true
	}
	return true, contains(allowed, version)
}

// ModelEntry finds the list entry for a model: an exact key, otherwise the
// longest key the model contains. Equal-length keys resolve in sorted order.
func ModelEntry(list map[string][]string, model string) ([]string, bool) {
	if model == "" {
		return nil, false
	}
	if versions, ok := list[model]; ok {
		return versions, true
	}

	keys := make([]string, 0, len(list))
	for key := range list {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	best := ""
	for _, key := range keys {
		if key != "" && len(key) > len(best) && strings.Contains(model, key) {
			best = key
		}
	}
	if best == "" {
		return nil, false
	}
	return list[best], true
}

// TrustVectorApplies reports whether a host whose SR-IOV ports run driver
// at version reports a trust vector worth comparing
func (p *Policy) TrustVectorApplies(driver, version string) bool {
	return driver == p.TrustVector.Driver && contains(p.TrustVector.Versions, version)
}

// SpeedExempt reports whether a NIC model may auto-negotiate
func (p *Policy) SpeedExempt(model string) bool {
	for _, sub := range p.FixedSpeedExempt {
		if sub != "" && strings.Contains(model, sub) {
			return true
		}
	}
	return false
}

// ESXiBuildAllowed checks the hypervisor build
func (p *Policy) ESXiBuildAllowed(build string) (checked, ok bool) {
	if len(p.ESXiBuilds) == 0 {
		return false, true
	}
	return true, contains(p.ESXiBuilds, build)
}

// ISMAllowed checks a management-agent version such as "3.5.0.ISM-1949".
// A missing agent is a violation whenever builds are listed.
func (p *Policy) ISMAllowed(version string) (checked, ok bool) {
	if len(p.ISMBuilds) == 0 {
		return false, true
	}
	_, build, found := strings.Cut(version, "-")
	if !found {
		return true, false
	}
	return true, contains(p.ISMBuilds, build)
}

// CompareVersions compares dotted numeric versions part by part, padding
// the shorter one with zeros. Non-numeric parts compare as zero.
func CompareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		x, y := versionPart(pa, i), versionPart(pb, i)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
	if err != nil {
		return 0
	}
	return n
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
