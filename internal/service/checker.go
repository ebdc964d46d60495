package service

import (
	"fmt"
	"strconv"
	"strings"

	"nictopo/internal/adapter"
	"nictopo/internal/config"
	"nictopo/internal/domain"
)

// Scope says whether a rule looks at one port or the whole host
type Scope string

const (
	ScopePort Scope = "port"
	ScopeHost Scope = "host"
)

// Violation is one finding of a rule, before it is stamped with the host
type Violation struct {
	Port       string
	Calculated string
	Observed   string
}

// CheckContext is everything the rules see for one host
type CheckContext struct {
	Host     domain.HostTarget
	Facts    map[domain.HostFact]string
	Ports    []domain.PortRecord
	Vectors  domain.Vectors
	Adapters []domain.AdapterStatus
	// NUMASupported is false when the host has more NUMA nodes than the
	// threshold table covers
	NUMASupported  bool
	NUMATableNodes int
	Policy         *config.Policy
}

func (c *CheckContext) fact(f domain.HostFact) string {
	if c.Facts == nil {
		return ""
	}
	return c.Facts[f]
}

// model prefers the inventory model over the one adapters reported
func (c *CheckContext) model() string {
	if c.Host.Model != "" {
		return c.Host.Model
	}
	return c.fact(domain.FactModel)
}

// adapterState returns the state of the named adapter, or "" if it did not run
func (c *CheckContext) adapterState(source string) domain.AdapterState {
	for _, a := range c.Adapters {
		if a.Source == source {
			return a.State
		}
	}
	return ""
}

// vectorObserved reports whether the observed VF vector can be compared. A
// blank parameter read by a working CLI session means no VFs are provisioned;
// a CLI that failed or never ran leaves the vector unknown.
func (c *CheckContext) vectorObserved() bool {
	if c.Vectors.Observed != "" {
		return true
	}
	if _, ok := c.Facts[domain.FactObservedVFVector]; ok {
		return true
	}
	switch c.adapterState(adapter.CLIName) {
	case domain.AdapterOK, domain.AdapterPartial:
		return true
	}
	return false
}

// Rule is one declarative consistency check
type Rule struct {
	Name     string
	Field    domain.Field
	Severity domain.Severity
	Scope    Scope
	Check    func(c *CheckContext) []Violation
}

// portCheck lifts a per-port predicate into a rule check. Orphans have no
// address and are skipped.
func portCheck(fn func(c *CheckContext, p *domain.PortRecord) (calculated, observed string, bad bool)) func(*CheckContext) []Violation {
	return func(c *CheckContext) []Violation {
		var out []Violation
		for i := range c.Ports {
			p := &c.Ports[i]
			if p.Orphan {
				continue
			}
			if calc, obs, bad := fn(c, p); bad {
				out = append(out, Violation{Port: p.Key(), Calculated: calc, Observed: obs})
			}
		}
		return out
	}
}

// hostCheck lifts a host predicate into a rule check
func hostCheck(fn func(c *CheckContext) (calculated, observed string, bad bool)) func(*CheckContext) []Violation {
	return func(c *CheckContext) []Violation {
		if calc, obs, bad := fn(c); bad {
			return []Violation{{Calculated: calc, Observed: obs}}
		}
		return nil
	}
}

// Rule fields that are host facts rather than port fields
const (
	FieldVFVector    domain.Field = "vf_vector"
	FieldTrustVector domain.Field = "trust_vector"
	FieldCPLD        domain.Field = "cpld_version"
	FieldIDRAC       domain.Field = "idrac_version"
	FieldBIOS        domain.Field = "bios_version"
	FieldESXiBuild   domain.Field = "esxi_build"
	FieldISM         domain.Field = "ism_version"
	FieldNUMANodes   domain.Field = "numa_nodes"
	FieldAdapter     domain.Field = "adapter"
)

// DefaultRules returns the rule set in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "vf_vector_mismatch", Field: FieldVFVector, Severity: domain.SeverityCritical, Scope: ScopeHost,
			Check: hostCheck(func(c *CheckContext) (string, string, bool) {
				v := c.Vectors
				if !c.vectorObserved() {
					return "", "", false
				}
				return v.Calculated, v.Observed, v.Observed != v.Calculated
			}),
		},
		{
			Name: "trust_vector_mismatch", Field: FieldTrustVector, Severity: domain.SeverityWarning, Scope: ScopeHost,
			Check: hostCheck(func(c *CheckContext) (string, string, bool) {
				v := c.Vectors
				if v.ObservedTrust == "" || !c.Policy.TrustVectorApplies(v.Family, v.FamilyDriverVersion) {
					return "", "", false
				}
				return v.CalculatedTrust, v.ObservedTrust, v.ObservedTrust != v.CalculatedTrust
			}),
		},
		{
			Name: "vfs_without_sriov", Field: domain.FieldConfiguredVFs, Severity: domain.SeverityWarning, Scope: ScopePort,
			Check: portCheck(func(c *CheckContext, p *domain.PortRecord) (string, string, bool) {
				n := p.ConfiguredVFCount()
				return "0", strconv.Itoa(n), n > 0 && p.Role != domain.RoleSRIOV
			}),
		},
		{
			Name: "link_down_with_role", Field: domain.FieldLink, Severity: domain.SeverityCritical, Scope: ScopePort,
			Check: portCheck(func(c *CheckContext, p *domain.PortRecord) (string, string, bool) {
				return string(domain.LinkUp), string(p.Link), p.Link == domain.LinkDown && p.Role.Assigned()
			}),
		},
		{
			Name: "speed_auto_negotiate", Field: domain.FieldSpeed, Severity: domain.SeverityWarning, Scope: ScopePort,
			Check: portCheck(func(c *CheckContext, p *domain.PortRecord) (string, string, bool) {
				bad := p.Speed == domain.SpeedAuto && p.Role.Assigned() && !c.Policy.SpeedExempt(p.Model)
				return "fixed", p.Speed, bad
			}),
		},
		{
			Name: "driver_version_not_allowed", Field: domain.FieldDriverVersion, Severity: domain.SeverityWarning, Scope: ScopePort,
			Check: portCheck(func(c *CheckContext, p *domain.PortRecord) (string, string, bool) {
				if p.Driver == "" || p.DriverVersion == "" {
					return "", "", false
				}
				checked, ok := c.Policy.DriverAllowed(p.Driver, p.DriverVersion)
				return strings.Join(c.Policy.DriverVersions[p.Driver], "|"), p.DriverVersion, checked && !ok
			}),
		},
		{
			Name: "firmware_below_minimum", Field: domain.FieldFirmwareVersion, Severity: domain.SeverityWarning, Scope: ScopePort,
			Check: portCheck(func(c *CheckContext, p *domain.PortRecord) (string, string, bool) {
				checked, ok := c.Policy.FirmwareAllowed(p.Driver, p.FirmwareVersion)
				return ">=" + c.Policy.FirmwareMinimum[p.Driver], p.FirmwareVersion, checked && !ok
			}),
		},
		{
			Name: "firmware_not_allowed", Field: domain.FieldFirmwareVersion, Severity: domain.SeverityWarning, Scope: ScopePort,
			Check: portCheck(func(c *CheckContext, p *domain.PortRecord) (string, string, bool) {
				checked, ok := c.Policy.FirmwareListed(p.Driver, p.Model, p.FirmwareVersion)
				return strings.Join(c.Policy.FirmwareVersionsFor(p.Driver, p.Model), "|"), p.FirmwareVersion, checked && !ok
			}),
		},
		componentRule("cpld_not_allowed", FieldCPLD, domain.FactCPLDVersion, func(p *config.Policy) map[string][]string { return p.Components.CPLD }),
		componentRule("idrac_not_allowed", FieldIDRAC, domain.FactIDRACVersion, func(p *config.Policy) map[string][]string { return p.Components.IDRAC }),
		componentRule("bios_not_allowed", FieldBIOS, domain.FactBIOSVersion, func(p *config.Policy) map[string][]string { return p.Components.BIOS }),
		{
			Name: "esxi_build_not_allowed", Field: FieldESXiBuild, Severity: domain.SeverityWarning, Scope: ScopeHost,
			Check: hostCheck(func(c *CheckContext) (string, string, bool) {
				build := c.fact(domain.FactESXiBuild)
				if build == "" {
					return "", "", false
				}
				checked, ok := c.Policy.ESXiBuildAllowed(build)
				return strings.Join(c.Policy.ESXiBuilds, "|"), build, checked && !ok
			}),
		},
		{
			Name: "ism_not_allowed", Field: FieldISM, Severity: domain.SeverityWarning, Scope: ScopeHost,
			Check: hostCheck(func(c *CheckContext) (string, string, bool) {
				// Without a working CLI session an absent agent proves nothing
				switch c.adapterState(adapter.CLIName) {
				case domain.AdapterOK, domain.AdapterPartial:
				default:
					return "", "", false
				}
				version := c.fact(domain.FactISMVersion)
				checked, ok := c.Policy.ISMAllowed(version)
				return "*-" + strings.Join(c.Policy.ISMBuilds, "|"), version, checked && !ok
			}),
		},
		{
			Name: "numa_unsupported", Field: FieldNUMANodes, Severity: domain.SeverityWarning, Scope: ScopeHost,
			Check: hostCheck(func(c *CheckContext) (string, string, bool) {
				return fmt.Sprintf("<=%d", c.NUMATableNodes), c.fact(domain.FactNUMANodes), !c.NUMASupported
			}),
		},
		{
			Name: "adapter_failed", Field: FieldAdapter, Severity: domain.SeverityInfo, Scope: ScopeHost,
			Check: func(c *CheckContext) []Violation {
				var out []Violation
				for _, a := range c.Adapters {
					if a.State == domain.AdapterFailed {
						out = append(out, Violation{Calculated: string(domain.AdapterOK), Observed: a.Source + ": " + a.Reason})
					}
				}
				return out
			},
		},
	}
}

func componentRule(name string, field domain.Field, fact domain.HostFact, list func(*config.Policy) map[string][]string) Rule {
	return Rule{
		Name: name, Field: field, Severity: domain.SeverityWarning, Scope: ScopeHost,
		Check: hostCheck(func(c *CheckContext) (string, string, bool) {
			version := c.fact(fact)
			if version == "" {
				return "", "", false
			}
			allowed := list(c.Policy)
			checked, ok := config.ComponentAllowed(allowed, c.model(), version)
			listed, _ := config.ModelEntry(allowed, c.model())
			return strings.Join(listed, "|"), version, checked && !ok
		}),
	}
}

// Checker evaluates a rule set against one host
type Checker struct {
	rules  []Rule
	policy config.Policy
}

// NewChecker returns a checker over the default rules
func NewChecker(policy config.Policy) *Checker {
	return &Checker{rules: DefaultRules(), policy: policy}
}

// WithRules replaces the rule set
func (k *Checker) WithRules(rules []Rule) *Checker {
	k.rules = rules
	return k
}

// Rules returns the rule set in evaluation order
func (k *Checker) Rules() []Rule {
	return k.rules
}

// Check runs every rule. Anomalies come out in rule order, then port order.
func (k *Checker) Check(c CheckContext) []domain.AnomalyRecord {
	if c.Policy == nil {
		c.Policy = &k.policy
	}

	var out []domain.AnomalyRecord
	for _, rule := range k.rules {
		for _, v := range rule.Check(&c) {
			out = append(out, domain.AnomalyRecord{
				Host:       c.Host.Name,
				Port:       v.Port,
				Rule:       rule.Name,
				Field:      string(rule.Field),
				Calculated: v.Calculated,
				Observed:   v.Observed,
				Severity:   rule.Severity,
			})
		}
	}
	return out
}
