// Package snapshot provides durable snapshot stores and registers them with
// the core snapshot registry.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/fueltrack/core/factory"
	coresnap "github.com/kilianp07/fueltrack/core/snapshot"
)

func init() {
	if err := coresnap.RegisterStore("sqlite", newSQLiteFromConf); err != nil {
		panic(err)
	}
	if err := coresnap.RegisterStore("redis", newRedisFromConf); err != nil {
		panic(err)
	}
}

// SQLiteConfig configures SQLiteStore.
type SQLiteConfig struct {
	Path string `json:"path"`
}

func newSQLiteFromConf(conf map[string]any) (coresnap.Store, error) {
	var cfg SQLiteConfig
	if err := factory.Decode(conf, &cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite snapshot store: path is required")
	}
	return NewSQLiteStore(cfg.Path)
}

// SQLiteStore keeps one row per vehicle and component.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)
	schema := `CREATE TABLE IF NOT EXISTS vehicle_snapshots (
        vehicle_id TEXT NOT NULL,
        component TEXT NOT NULL,
        schema_version INTEGER NOT NULL,
        taken_at INTEGER NOT NULL,
        data TEXT NOT NULL,
        PRIMARY KEY(vehicle_id, component)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts all records in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, recs []coresnap.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vehicle_snapshots (vehicle_id, component, schema_version, taken_at, data)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(vehicle_id, component) DO UPDATE SET
            schema_version = excluded.schema_version,
            taken_at = excluded.taken_at,
            data = excluded.data`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.VehicleID, r.Component, r.SchemaVersion, r.TakenAt.UnixNano(), string(r.Data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save %s: %w", r.Key(), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context, vehicleID string) ([]coresnap.Record, error) {
	return s.query(ctx, ` WHERE vehicle_id = ?`, vehicleID)
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]coresnap.Record, error) {
	return s.query(ctx, "")
}

func (s *SQLiteStore) query(ctx context.Context, where string, args ...any) ([]coresnap.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vehicle_id, component, schema_version, taken_at, data FROM vehicle_snapshots`+where+` ORDER BY vehicle_id, component`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []coresnap.Record
	for rows.Next() {
		var (
			r    coresnap.Record
			ts   int64
			data string
		)
		if err := rows.Scan(&r.VehicleID, &r.Component, &r.SchemaVersion, &ts, &data); err != nil {
			return nil, err
		}
		r.TakenAt = time.Unix(0, ts).UTC()
		r.Data = []byte(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, vehicleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vehicle_snapshots WHERE vehicle_id = ?`, vehicleID)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
