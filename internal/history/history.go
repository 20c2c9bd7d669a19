package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dcastel/ecowatch/internal/config"
	"github.com/dcastel/ecowatch/pkg/ecoflow"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const dirPerm = 0o755

// Repository persists device snapshots and charging transitions to sqlite.
// A single writer mutex keeps sqlite happy under concurrent recorders.
type Repository struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

func NewRepository(cfg config.HistoryConfig, logger *zap.Logger) (*Repository, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("history db path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), dirPerm); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &Repository{
		db:     db,
		logger: logger.With(zap.String("component", "history")),
	}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS snapshots (
            timestamp INTEGER NOT NULL,
            source TEXT NOT NULL,
            soc REAL,
            watts_in REAL,
            watts_out REAL,
            charging INTEGER,
            state TEXT,
            PRIMARY KEY (timestamp, source)
        );
        CREATE TABLE IF NOT EXISTS transitions (
            timestamp INTEGER NOT NULL,
            kind TEXT NOT NULL,
            soc REAL,
            watts_in REAL,
            PRIMARY KEY (timestamp, kind)
        );
    `)
	return err
}

func (r *Repository) RecordSnapshot(source string, state ecoflow.DeviceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = r.db.Exec(`
        INSERT INTO snapshots (timestamp, source, soc, watts_in, watts_out, charging, state)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(timestamp, source) DO UPDATE SET
            soc = excluded.soc,
            watts_in = excluded.watts_in,
            watts_out = excluded.watts_out,
            charging = excluded.charging,
            state = excluded.state
    `,
		time.Now().Unix(),
		source,
		nullableFloat(state.SOC),
		nullableFloat(state.WattsIn),
		nullableFloat(state.WattsOut),
		nullableBool(state.IsCharging),
		string(encoded),
	)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (r *Repository) RecordTransition(kind string, state ecoflow.DeviceState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
        INSERT INTO transitions (timestamp, kind, soc, watts_in)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(timestamp, kind) DO NOTHING
    `,
		time.Now().Unix(),
		kind,
		nullableFloat(state.SOC),
		nullableFloat(state.WattsIn),
	)
	if err != nil {
		return fmt.Errorf("store transition: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close history db: %w", err)
	}
	return nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableBool(v *bool) any {
	if v == nil {
		return nil
	}
	if *v {
		return 1
	}
	return 0
}
