package codec

import (
	"encoding/csv"
	"fmt"
	"io"

	"nictopo/internal/domain"
)

// CSVCodec writes one row per port with a fixed header. Anomalies are not
// part of the table; use the JSON or YAML output or the SQLite sink for
// them.
type CSVCodec struct{}

// NewCSVCodec creates a new CSV codec
func NewCSVCodec() *CSVCodec {
	return &CSVCodec{}
}

// Format returns the codec format identifier
func (c *CSVCodec) Format() string {
	return "csv"
}

// Export writes the header and one row per port
func (c *CSVCodec) Export(reports []domain.HostReport, w io.Writer) error {
	cols := PortColumns()
	cw := csv.NewWriter(w)

	if err := cw.Write(cols); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(cols))
	for i := range reports {
		r := &reports[i]
		for j := range r.Ports {
			row := portRow(r, &r.Ports[j])
			for k, col := range cols {
				record[k] = row[col]
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write CSV row: %w", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}
