package domain

// Severity ranks an anomaly
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AnomalyRecord is one policy violation found by the consistency rules
type AnomalyRecord struct {
	Host string `json:"host" yaml:"host"`
	// Port is the PCI address or orphan key; empty for host-level rules
	Port       string   `json:"port,omitempty" yaml:"port,omitempty"`
	Rule       string   `json:"rule" yaml:"rule"`
	Field      string   `json:"field" yaml:"field"`
	Calculated string   `json:"calculated" yaml:"calculated"`
	Observed   string   `json:"observed" yaml:"observed"`
	Severity   Severity `json:"severity" yaml:"severity"`
}
