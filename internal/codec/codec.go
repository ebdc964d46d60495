package codec

import (
	"fmt"
	"io"
	"strings"
	"time"

	"nictopo/internal/domain"
)

// Exporter writes host reports in one output format
type Exporter interface {
	Export(reports []domain.HostReport, w io.Writer) error
	Format() string
}

// ForFormat returns the exporter registered under name
func ForFormat(name string) (Exporter, error) {
	switch strings.ToLower(name) {
	case "json", "jsonl":
		return NewJSONCodec(), nil
	case "csv":
		return NewCSVCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	}
	return nil, fmt.Errorf("unknown output format %q", name)
}

// hostColumns are the host-level values repeated on every port row
var hostColumns = []string{
	"run_id",
	"timestamp",
	"host",
	"cluster",
	"host_model",
	"esxi_version",
	"esxi_build",
	"bios_version",
	"numa_nodes",
}

// PortColumns returns the column order of a flattened port row
func PortColumns() []string {
	cols := append([]string{}, hostColumns...)
	cols = append(cols, string(domain.FieldPCI))
	for _, f := range domain.PortFields {
		cols = append(cols, string(f))
	}
	return cols
}

// portRow flattens one port with its host's facts. Unset fields are absent.
func portRow(r *domain.HostReport, p *domain.PortRecord) map[string]string {
	row := map[string]string{
		"run_id":    r.RunID,
		"timestamp": r.FinishedAt.UTC().Format(time.RFC3339),
		"host":      r.Host.Name,
	}
	set := func(key, value string) {
		if value != "" {
			row[key] = value
		}
	}

	set("cluster", r.Host.Cluster)
	model := r.Host.Model
	if model == "" {
		model = r.Fact(domain.FactModel)
	}
	set("host_model", model)
	set("esxi_version", r.Fact(domain.FactESXiVersion))
	set("esxi_build", r.Fact(domain.FactESXiBuild))
	set("bios_version", r.Fact(domain.FactBIOSVersion))
	set("numa_nodes", r.Fact(domain.FactNUMANodes))

	set(string(domain.FieldPCI), p.Key())
	for _, f := range domain.PortFields {
		if v, ok := p.Get(f); ok {
			set(string(f), v)
		}
	}
	return row
}

// anomalyRow flattens one anomaly
func anomalyRow(r *domain.HostReport, a domain.AnomalyRecord) map[string]string {
	row := map[string]string{
		"run_id":     r.RunID,
		"timestamp":  r.FinishedAt.UTC().Format(time.RFC3339),
		"host":       a.Host,
		"rule":       a.Rule,
		"field":      a.Field,
		"calculated": a.Calculated,
		"observed":   a.Observed,
		"severity":   string(a.Severity),
	}
	if a.Port != "" {
		row["port"] = a.Port
	}
	return row
}
