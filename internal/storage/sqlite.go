package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"silowatch/internal/silo"
	logx "silowatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeFormat = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LastReading(ctx context.Context, siloID string) (*silo.Reading, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, silo_id, ts, temp_c, rh_pct, co2_ppm_est, mq2_raw, luminosity_alert, lux
		 FROM readings WHERE silo_id = ? ORDER BY ts DESC LIMIT 1`, siloID)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (*silo.Reading, error) {
	var (
		r    silo.Reading
		ts   string
		co2  sql.NullFloat64
		mq2  sql.NullInt64
		flag sql.NullInt64
		lux  sql.NullFloat64
	)
	if err := row.Scan(&r.ID, &r.SiloID, &ts, &r.TempC, &r.RHPct, &co2, &mq2, &flag, &lux); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("readings.ts: %w", err)
	}
	r.Timestamp = t
	if co2.Valid {
		v := co2.Float64
		r.CO2PPMEst = &v
	}
	if mq2.Valid {
		v := int(mq2.Int64)
		r.MQ2Raw = &v
	}
	if flag.Valid {
		v := int(flag.Int64)
		r.LuminosityAlert = &v
	}
	if lux.Valid {
		v := lux.Float64
		r.Lux = &v
	}
	return &r, nil
}

func (s *sqliteStore) SaveReading(ctx context.Context, r *silo.Reading) error {
	// (silo_id, ts) is unique; a concurrent duplicate insert is a no-op.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings(id, silo_id, ts, temp_c, rh_pct, co2_ppm_est, mq2_raw, luminosity_alert, lux)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(silo_id, ts) DO NOTHING`,
		r.ID, r.SiloID, r.Timestamp.UTC().Format(timeFormat), r.TempC, r.RHPct,
		nullFloat(r.CO2PPMEst), nullInt(r.MQ2Raw), nullInt(r.LuminosityAlert), nullFloat(r.Lux),
	)
	return err
}

func (s *sqliteStore) DerivedState(ctx context.Context, siloID string) (*silo.DerivedState, error) {
	var (
		st        silo.DerivedState
		lastAt    string
		lastLux   sql.NullFloat64
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT silo_id, luminosity, last_reading_id, last_reading_at, last_lux, updated_at
		 FROM derived_states WHERE silo_id = ?`, siloID).
		Scan(&st.SiloID, &st.Luminosity, &st.LastReadingID, &lastAt, &lastLux, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastLux.Valid {
		v := lastLux.Float64
		st.LastLux = &v
	}
	if st.LastReadingAt, err = time.Parse(timeFormat, lastAt); err != nil {
		return nil, fmt.Errorf("derived_states.last_reading_at: %w", err)
	}
	if st.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("derived_states.updated_at: %w", err)
	}
	return &st, nil
}

func (s *sqliteStore) SaveDerivedState(ctx context.Context, st *silo.DerivedState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO derived_states(silo_id, luminosity, last_reading_id, last_reading_at, last_lux, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(silo_id) DO UPDATE SET
		   luminosity=excluded.luminosity,
		   last_reading_id=excluded.last_reading_id,
		   last_reading_at=excluded.last_reading_at,
		   last_lux=excluded.last_lux,
		   updated_at=excluded.updated_at`,
		st.SiloID, string(st.Luminosity), st.LastReadingID,
		st.LastReadingAt.UTC().Format(timeFormat), nullFloat(st.LastLux), st.UpdatedAt.UTC().Format(timeFormat),
	)
	return err
}

func (s *sqliteStore) SaveEvent(ctx context.Context, e *silo.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO silo_events(id, silo_id, event_type, from_state, to_state, prev_lux, lux, ts)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.ID, e.SiloID, e.Type, string(e.From), string(e.To),
		nullFloat(e.PrevLux), nullFloat(e.Lux), e.Timestamp.UTC().Format(timeFormat),
	)
	return err
}

func (s *sqliteStore) SaveAlert(ctx context.Context, a *silo.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts(id, silo_id, severity, kind, message, value, source_id, ts, acknowledged)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SiloID, string(a.Severity), a.Kind, a.Message,
		nullStr(a.Value), nullStr(a.SourceID), a.Timestamp.UTC().Format(timeFormat), boolInt(a.Acknowledged),
	)
	return err
}

func (s *sqliteStore) SaveOutcome(ctx context.Context, o *silo.DeliveryOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_outcomes(id, alert_id, channel, status, error, attempted_at)
		 VALUES(?,?,?,?,?,?)`,
		o.ID, o.AlertID, o.Channel, string(o.Status), nullStr(o.Error),
		o.AttemptedAt.UTC().Format(timeFormat),
	)
	return err
}

func (s *sqliteStore) RecentAlerts(ctx context.Context, siloID string, limit int) ([]silo.Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, silo_id, severity, kind, message, value, source_id, ts, acknowledged
	      FROM alerts`
	args := []any{}
	if siloID != "" {
		q += ` WHERE silo_id = ?`
		args = append(args, siloID)
	}
	q += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *sqliteStore) AcknowledgeAlert(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, alertID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *sqliteStore) UndeliveredAlerts(ctx context.Context, retryBudget, limit int) ([]silo.Alert, error) {
	if retryBudget <= 0 {
		retryBudget = 3
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.silo_id, a.severity, a.kind, a.message, a.value, a.source_id, a.ts, a.acknowledged
		 FROM alerts a
		 WHERE EXISTS (SELECT 1 FROM delivery_outcomes o WHERE o.alert_id = a.id AND o.status = 'failed')
		   AND NOT EXISTS (SELECT 1 FROM delivery_outcomes o WHERE o.alert_id = a.id AND o.status = 'delivered')
		   AND (SELECT COUNT(*) FROM delivery_outcomes o WHERE o.alert_id = a.id AND o.status = 'failed') < ?
		 ORDER BY a.ts ASC LIMIT ?`,
		retryBudget, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows *sql.Rows) ([]silo.Alert, error) {
	var out []silo.Alert
	for rows.Next() {
		var (
			a     silo.Alert
			sev   string
			val   sql.NullString
			src   sql.NullString
			ts    string
			acked int
		)
		if err := rows.Scan(&a.ID, &a.SiloID, &sev, &a.Kind, &a.Message, &val, &src, &ts, &acked); err != nil {
			return nil, err
		}
		a.Severity = silo.Severity(sev)
		a.Value = val.String
		a.SourceID = src.String
		a.Acknowledged = acked != 0
		t, err := time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("alerts.ts: %w", err)
		}
		a.Timestamp = t
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
