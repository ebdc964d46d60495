package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"nictopo/internal/domain"
)

// Repository stores the snapshot of the last run in SQLite
type Repository struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps an in-memory database on a single connection
	db.SetMaxOpenConns(1)

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	fieldCols := make([]string, 0, len(domain.PortFields))
	for _, f := range domain.PortFields {
		fieldCols = append(fieldCols, fmt.Sprintf("%q TEXT", string(f)))
	}

	schema := `
	CREATE TABLE IF NOT EXISTS hosts (
		name TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		cluster TEXT,
		model TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		facts JSON,
		vectors JSON,
		unresolved INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS ports (
		host TEXT NOT NULL,
		pci TEXT NOT NULL,
		orphan INTEGER NOT NULL DEFAULT 0,
		sources JSON,
		` + strings.Join(fieldCols, ",\n\t\t") + `,
		PRIMARY KEY (host, pci),
		FOREIGN KEY (host) REFERENCES hosts(name) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS anomalies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		port TEXT,
		rule TEXT NOT NULL,
		field TEXT NOT NULL,
		calculated TEXT,
		observed TEXT,
		severity TEXT NOT NULL,
		FOREIGN KEY (host) REFERENCES hosts(name) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS adapter_results (
		host TEXT NOT NULL,
		source TEXT NOT NULL,
		state TEXT NOT NULL,
		reason TEXT,
		observations INTEGER NOT NULL DEFAULT 0,
		warnings JSON,
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (host, source),
		FOREIGN KEY (host) REFERENCES hosts(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_anomalies_host ON anomalies(host);
	CREATE INDEX IF NOT EXISTS idx_anomalies_rule ON anomalies(rule);
	`

	_, err := r.db.Exec(schema)
	return err
}

// SaveRun replaces the stored snapshot with reports in one transaction
func (r *Repository) SaveRun(ctx context.Context, reports []domain.HostReport) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Clear existing data (children first)
	for _, table := range []string{"adapter_results", "anomalies", "ports", "hosts"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	hostStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO hosts (name, run_id, cluster, model, started_at, finished_at, facts, vectors, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare host statement: %w", err)
	}
	defer hostStmt.Close()

	cols := portColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	portStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO ports (%s) VALUES (%s)`,
		strings.Join(quoted, ", "), placeholders(len(cols))))
	if err != nil {
		return fmt.Errorf("failed to prepare port statement: %w", err)
	}
	defer portStmt.Close()

	anomalyStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO anomalies (host, port, rule, field, calculated, observed, severity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare anomaly statement: %w", err)
	}
	defer anomalyStmt.Close()

	adapterStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO adapter_results (host, source, state, reason, observations, warnings, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare adapter statement: %w", err)
	}
	defer adapterStmt.Close()

	for i := range reports {
		rep := &reports[i]
		name := rep.Host.Name

		facts, err := marshalToNull(rep.Facts, len(rep.Facts) == 0)
		if err != nil {
			return fmt.Errorf("failed to marshal facts of %s: %w", name, err)
		}
		vectors, err := marshalToNull(rep.Vectors, rep.Vectors == domain.Vectors{})
		if err != nil {
			return fmt.Errorf("failed to marshal vectors of %s: %w", name, err)
		}
		if _, err := hostStmt.ExecContext(ctx, name, rep.RunID, stringToNull(rep.Host.Cluster), stringToNull(rep.Host.Model),
			formatTime(rep.StartedAt), formatTime(rep.FinishedAt), facts, vectors, rep.Unresolved); err != nil {
			return fmt.Errorf("failed to insert host %s: %w", name, err)
		}

		for j := range rep.Ports {
			args, err := portInsertArgs(name, &rep.Ports[j])
			if err != nil {
				return fmt.Errorf("failed to encode port %s of %s: %w", rep.Ports[j].Key(), name, err)
			}
			if _, err := portStmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert port %s of %s: %w", rep.Ports[j].Key(), name, err)
			}
		}

		for _, a := range rep.Anomalies {
			if _, err := anomalyStmt.ExecContext(ctx, name, stringToNull(a.Port), a.Rule, a.Field,
				a.Calculated, a.Observed, string(a.Severity)); err != nil {
				return fmt.Errorf("failed to insert anomaly %s of %s: %w", a.Rule, name, err)
			}
		}

		for _, a := range rep.Adapters {
			warnings, err := marshalToNull(a.Warnings, len(a.Warnings) == 0)
			if err != nil {
				return fmt.Errorf("failed to marshal warnings of %s: %w", a.Source, err)
			}
			if _, err := adapterStmt.ExecContext(ctx, name, a.Source, string(a.State), stringToNull(a.Reason),
				a.Observations, warnings, a.Elapsed.Milliseconds()); err != nil {
				return fmt.Errorf("failed to insert adapter result %s of %s: %w", a.Source, name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LoadRun reads the stored snapshot back, hosts ordered by name and ports
// in their stored order
func (r *Repository) LoadRun(ctx context.Context) ([]domain.HostReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, run_id, cluster, model, started_at, finished_at, facts, vectors, unresolved
		FROM hosts ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hosts: %w", err)
	}
	defer rows.Close()

	var reports []domain.HostReport
	index := make(map[string]int)
	for rows.Next() {
		var (
			rep                    domain.HostReport
			cluster, model         sql.NullString
			started, finished      string
			factsJSON, vectorsJSON sql.NullString
		)
		if err := rows.Scan(&rep.Host.Name, &rep.RunID, &cluster, &model, &started, &finished,
			&factsJSON, &vectorsJSON, &rep.Unresolved); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		if rep.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("host %s started_at: %w", rep.Host.Name, err)
		}
		if rep.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("host %s finished_at: %w", rep.Host.Name, err)
		}
		rep.Host.Cluster = nullToString(cluster)
		rep.Host.Model = nullToString(model)
		if err := unmarshalJSONField(factsJSON, &rep.Facts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal facts of %s: %w", rep.Host.Name, err)
		}
		if err := unmarshalJSONField(vectorsJSON, &rep.Vectors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vectors of %s: %w", rep.Host.Name, err)
		}
		index[rep.Host.Name] = len(reports)
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hosts: %w", err)
	}

	if err := r.loadPorts(ctx, reports, index); err != nil {
		return nil, err
	}
	if err := r.loadAnomalies(ctx, reports, index); err != nil {
		return nil, err
	}
	if err := r.loadAdapters(ctx, reports, index); err != nil {
		return nil, err
	}
	return reports, nil
}

func (r *Repository) loadPorts(ctx context.Context, reports []domain.HostReport, index map[string]int) error {
	cols := portColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM ports ORDER BY rowid`, strings.Join(quoted, ", ")))
	if err != nil {
		return fmt.Errorf("failed to query ports: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		row := newPortRow()
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return fmt.Errorf("failed to scan port: %w", err)
		}
		rec, err := row.toDomain()
		if err != nil {
			return err
		}
		if i, ok := index[row.Host]; ok {
			reports[i].Ports = append(reports[i].Ports, rec)
		}
	}
	return rows.Err()
}

func (r *Repository) loadAnomalies(ctx context.Context, reports []domain.HostReport, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT host, port, rule, field, calculated, observed, severity
		FROM anomalies ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a                          domain.AnomalyRecord
			port, calculated, observed sql.NullString
			severity                   string
		)
		if err := rows.Scan(&a.Host, &port, &a.Rule, &a.Field, &calculated, &observed, &severity); err != nil {
			return fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.Port = nullToString(port)
		a.Calculated = nullToString(calculated)
		a.Observed = nullToString(observed)
		a.Severity = domain.Severity(severity)
		if i, ok := index[a.Host]; ok {
			reports[i].Anomalies = append(reports[i].Anomalies, a)
		}
	}
	return rows.Err()
}

func (r *Repository) loadAdapters(ctx context.Context, reports []domain.HostReport, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT host, source, state, reason, observations, warnings, elapsed_ms
		FROM adapter_results ORDER BY host, source
	`)
	if err != nil {
		return fmt.Errorf("failed to query adapter results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			host, state      string
			a                domain.AdapterStatus
			reason, warnings sql.NullString
			elapsedMillis    int64
		)
		if err := rows.Scan(&host, &a.Source, &state, &reason, &a.Observations, &warnings, &elapsedMillis); err != nil {
			return fmt.Errorf("failed to scan adapter result: %w", err)
		}
		a.State = domain.AdapterState(state)
		a.Reason = nullToString(reason)
		a.Elapsed = time.Duration(elapsedMillis) * time.Millisecond
		if err := unmarshalJSONField(warnings, &a.Warnings); err != nil {
			return fmt.Errorf("failed to unmarshal warnings of %s: %w", a.Source, err)
		}
		if i, ok := index[host]; ok {
			reports[i].Adapters = append(reports[i].Adapters, a)
		}
	}
	return rows.Err()
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
