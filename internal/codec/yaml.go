package codec

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"nictopo/internal/domain"
)

// YAMLCodec writes the reports as one YAML document
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlRun is the YAML structure of a run's output
type yamlRun struct {
	Hosts []yamlHost `yaml:"hosts"`
}

type yamlHost struct {
	Name       string                 `yaml:"name"`
	Cluster    string                 `yaml:"cluster,omitempty"`
	RunID      string                 `yaml:"run_id"`
	StartedAt  time.Time              `yaml:"started_at"`
	FinishedAt time.Time              `yaml:"finished_at"`
	Facts      map[string]string      `yaml:"facts,omitempty"`
	Vectors    domain.Vectors         `yaml:"vectors"`
	Ports      []map[string]string    `yaml:"ports"`
	Adapters   []yamlAdapter          `yaml:"adapters"`
	Anomalies  []domain.AnomalyRecord `yaml:"anomalies,omitempty"`
	Unresolved int                    `yaml:"unresolved,omitempty"`
}

type yamlAdapter struct {
	Source   string   `yaml:"source"`
	State    string   `yaml:"state"`
	Reason   string   `yaml:"reason,omitempty"`
	Warnings []string `yaml:"warnings,omitempty"`
	Elapsed  string   `yaml:"elapsed"`
}

// Export writes every report under a top-level hosts list
func (c *YAMLCodec) Export(reports []domain.HostReport, w io.Writer) error {
	out := yamlRun{Hosts: make([]yamlHost, 0, len(reports))}

	for i := range reports {
		r := &reports[i]
		yh := yamlHost{
			Name:       r.Host.Name,
			Cluster:    r.Host.Cluster,
			RunID:      r.RunID,
			StartedAt:  r.StartedAt.UTC(),
			FinishedAt: r.FinishedAt.UTC(),
			Vectors:    r.Vectors,
			Ports:      make([]map[string]string, 0, len(r.Ports)),
			Anomalies:  r.Anomalies,
			Unresolved: r.Unresolved,
		}
		if len(r.Facts) > 0 {
			yh.Facts = make(map[string]string, len(r.Facts))
			for k, v := range r.Facts {
				yh.Facts[string(k)] = v
			}
		}
		for j := range r.Ports {
			p := &r.Ports[j]
			row := map[string]string{string(domain.FieldPCI): p.Key()}
			for _, f := range domain.PortFields {
				if v, ok := p.Get(f); ok && v != "" {
					row[string(f)] = v
				}
			}
			yh.Ports = append(yh.Ports, row)
		}
		for _, a := range r.Adapters {
			yh.Adapters = append(yh.Adapters, yamlAdapter{
				Source:   a.Source,
				State:    string(a.State),
				Reason:   a.Reason,
				Warnings: a.Warnings,
				Elapsed:  a.Elapsed.String(),
			})
		}
		out.Hosts = append(out.Hosts, yh)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&out); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
