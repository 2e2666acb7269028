// Package datastore talks to the geodata database the loader writes
// into. It is deliberately separate from the service database: imported
// tables live where the map server reads them.
package datastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/spatialops/importer/modules/ingest/infrastructure/gdal"
)

type Manager struct {
	db *sqlx.DB
}

func Open(conn gdal.Connection) (*Manager, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		conn.Host, conn.Port, conn.Database, conn.User, conn.Password,
	)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to datastore")
	}
	return &Manager{db: db}, nil
}

// NewManager wraps an existing handle. Tests inject a mock through it.
func NewManager(db *sqlx.DB) *Manager {
	return &Manager{db: db}
}

func (m *Manager) Close() error {
	return m.db.Close()
}

func (m *Manager) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := m.db.GetContext(ctx, &exists,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)`, table)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check table %s", table)
	}
	return exists, nil
}

func (m *Manager) DropTable(ctx context.Context, table string) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS public.%s`, pq.QuoteIdentifier(table))
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return errors.Wrapf(err, "failed to drop table %s", table)
	}
	return nil
}

// TableMetadata describes one imported table as the datastore sees it.
// Geometry fields stay empty for non-spatial tables.
type TableMetadata struct {
	GeometryColumn string
	GeometryType   string
	SRID           int
	RowCount       int64
}

type geometryColumnRow struct {
	Column string `db:"f_geometry_column"`
	Type   string `db:"type"`
	SRID   int    `db:"srid"`
}

func (m *Manager) TableMetadata(ctx context.Context, table string) (*TableMetadata, error) {
	meta := &TableMetadata{}

	var gc geometryColumnRow
	err := m.db.GetContext(ctx, &gc,
		`SELECT f_geometry_column, type, srid FROM geometry_columns
		 WHERE f_table_schema = 'public' AND f_table_name = $1`, table)
	switch {
	case err == nil:
		meta.GeometryColumn = gc.Column
		meta.GeometryType = gc.Type
		meta.SRID = gc.SRID
	case errors.Is(err, sql.ErrNoRows):
	default:
		return nil, errors.Wrapf(err, "failed to read geometry metadata of %s", table)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM public.%s`, pq.QuoteIdentifier(table))
	if err := m.db.GetContext(ctx, &meta.RowCount, countQuery); err != nil {
		return nil, errors.Wrapf(err, "failed to count rows of %s", table)
	}
	return meta, nil
}
