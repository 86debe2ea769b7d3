// Package runstore persists the per-iteration energy history of a training
// run in a SQLite database, so long runs can be resumed, inspected and
// plotted without the process alive.
package runstore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableEnergy = "energy"
	tableMeta   = "meta"
)

// Energy is one training iteration's diagnostics.
type Energy struct {
	Iteration int
	// E is the batch mean local energy.
	E float64
	// Std is the rolling standard deviation of the energy history.
	Std float64
}

// Store records a training run.
type Store struct {
	Path string
	db   *sql.DB
}

// Open opens or creates a store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &Store{Path: dbPath, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddEnergy records one iteration, replacing any previous record of the same
// iteration.
func (s *Store) AddEnergy(e Energy) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (iteration, e, std) VALUES (?, ?, ?)`, tableEnergy)
	if _, err := s.db.ExecContext(ctx, sqlStr, e.Iteration, e.E, e.Std); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%#v", e))
	}
	return nil
}

// Energies returns all recorded iterations in iteration order.
func (s *Store) Energies() ([]Energy, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT iteration, e, std FROM %s ORDER BY iteration`, tableEnergy)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	es := make([]Energy, 0)
	for rows.Next() {
		var e Energy
		if err := rows.Scan(&e.Iteration, &e.E, &e.Std); err != nil {
			return nil, errors.Wrap(err, "")
		}
		es = append(es, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return es, nil
}

// SetMeta records a key value pair describing the run.
func (s *Store) SetMeta(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT OR REPLACE INTO %s (k, v) VALUES (?, ?)`, tableMeta)
	if _, err := s.db.ExecContext(ctx, sqlStr, key, value); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %s", key, value))
	}
	return nil
}

// Meta returns the value recorded for key, or "" when absent.
func (s *Store) Meta(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT v FROM %s WHERE k=?`, tableMeta)
	var v string
	err := s.db.QueryRowContext(ctx, sqlStr, key).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		return "", errors.Wrap(err, key)
	default:
		return v, nil
	}
}

// WriteCSV writes the energy history to fpath as CSV.
func (s *Store) WriteCSV(fpath string) error {
	es, err := s.Energies()
	if err != nil {
		return errors.Wrap(err, "")
	}

	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := csv.NewWriter(f)

	for _, e := range es {
		row := []string{
			strconv.Itoa(e.Iteration),
			strconv.FormatFloat(e.E, 'g', -1, 64),
			strconv.FormatFloat(e.Std, 'g', -1, 64),
		}
		if err1 := w.Write(row); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
	}

	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (iteration INTEGER PRIMARY KEY, e REAL, std REAL) STRICT`, tableEnergy)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k TEXT PRIMARY KEY, v TEXT) STRICT`, tableMeta)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
