package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"nictopo/internal/domain"
)

// Record types of a JSON lines stream
const (
	RecordPort    = "port"
	RecordAnomaly = "anomaly"
	RecordVectors = "vectors"
)

// JSONCodec writes JSON lines: one flat object per port, per host vector
// summary and per anomaly, each tagged with "record". Keys are lower case
// so log indexers can search them without field aliases.
type JSONCodec struct{}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Format returns the codec format identifier
func (c *JSONCodec) Format() string {
	return "json"
}

// Export writes every report as JSON lines
func (c *JSONCodec) Export(reports []domain.HostReport, w io.Writer) error {
	encoder := json.NewEncoder(w)

	emit := func(record string, row map[string]string) error {
		out := make(map[string]string, len(row)+1)
		for k, v := range row {
			out[strings.ToLower(k)] = v
		}
		out["record"] = record
		if err := encoder.Encode(out); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}

	for i := range reports {
		r := &reports[i]
		for j := range r.Ports {
			if err := emit(RecordPort, portRow(r, &r.Ports[j])); err != nil {
				return err
			}
		}
		if err := emit(RecordVectors, vectorRow(r)); err != nil {
			return err
		}
		for _, a := range r.Anomalies {
			if err := emit(RecordAnomaly, anomalyRow(r, a)); err != nil {
				return err
			}
		}
	}
	return nil
}

func vectorRow(r *domain.HostReport) map[string]string {
	row := map[string]string{
		"run_id":                r.RunID,
		"host":                  r.Host.Name,
		"family":                r.Vectors.Family,
		"calculated_vf_vector":  r.Vectors.Calculated,
		"observed_vf_vector":    r.Vectors.Observed,
		"calculated_trust":      r.Vectors.CalculatedTrust,
		"observed_trust":        r.Vectors.ObservedTrust,
		"family_driver_version": r.Vectors.FamilyDriverVersion,
	}
	for _, a := range r.Adapters {
		row["adapter_"+a.Source] = string(a.State)
	}
	return row
}
