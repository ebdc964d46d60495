package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nictopo/internal/domain"
	"nictopo/internal/pci"
)

// ============================================================================
// Null Type Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullToBool converts sql.NullInt64 to bool (0 = false, non-zero = true)
func nullToBool(ni sql.NullInt64) bool {
	return ni.Valid && ni.Int64 != 0
}

// stringToNull safely converts string to sql.NullString
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// formatTime stores timestamps as RFC 3339 text in UTC
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals v to a nullable JSON string. Empty maps and
// slices are stored as NULL.
func marshalToNull[T any](v T, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// ============================================================================
// Port Row Scanner
// ============================================================================
//
// The ports table has host, pci, orphan, sources, then one TEXT column per
// entry of domain.PortFields, named after the field. Adding a port field
// to the domain therefore needs a migration adding its column (see
// migrate in sqlite.go) and nothing here.

// portColumns returns the ports column list in scan order
func portColumns() []string {
	cols := []string{"host", "pci", "orphan", "sources"}
	for _, f := range domain.PortFields {
		cols = append(cols, string(f))
	}
	return cols
}

// portRow holds all columns from a ports query for scanning
type portRow struct {
	Host        string
	Key         string
	Orphan      sql.NullInt64
	SourcesJSON sql.NullString
	Fields      []sql.NullString
}

func newPortRow() *portRow {
	return &portRow{Fields: make([]sql.NullString, len(domain.PortFields))}
}

// scanArgs returns pointers to all fields for sql.Scan(), in portColumns order
func (r *portRow) scanArgs() []interface{} {
	args := []interface{}{&r.Host, &r.Key, &r.Orphan, &r.SourcesJSON}
	for i := range r.Fields {
		args = append(args, &r.Fields[i])
	}
	return args
}

// toDomain converts the row back into a port record
func (r *portRow) toDomain() (domain.PortRecord, error) {
	var rec *domain.PortRecord
	if nullToBool(r.Orphan) {
		rec = domain.NewOrphanRecord(r.Key)
	} else {
		addr, err := pci.Parse(r.Key)
		if err != nil {
			return domain.PortRecord{}, fmt.Errorf("port %s: %w", r.Key, err)
		}
		rec = domain.NewPortRecord(addr)
	}

	for i, f := range domain.PortFields {
		if !r.Fields[i].Valid {
			continue
		}
		if err := rec.Set(f, r.Fields[i].String); err != nil {
			return domain.PortRecord{}, fmt.Errorf("port %s: %w", r.Key, err)
		}
	}
	if err := unmarshalJSONField(r.SourcesJSON, &rec.Sources); err != nil {
		return domain.PortRecord{}, fmt.Errorf("port %s sources: %w", r.Key, err)
	}
	return *rec, nil
}

// portInsertArgs returns the insert values of a port, in portColumns order
func portInsertArgs(host string, p *domain.PortRecord) ([]interface{}, error) {
	sources, err := marshalToNull(p.Sources, len(p.Sources) == 0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}
	orphan := 0
	if p.Orphan {
		orphan = 1
	}

	args := []interface{}{host, p.Key(), orphan, sources}
	for _, f := range domain.PortFields {
		v, ok := p.Get(f)
		if !ok {
			args = append(args, sql.NullString{})
			continue
		}
		args = append(args, stringToNull(v))
	}
	return args, nil
}

// placeholders returns "?, ?, ..." for n values
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
