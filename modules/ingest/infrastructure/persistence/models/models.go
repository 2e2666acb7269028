package models

import (
	"database/sql"
	"time"
)

type Execution struct {
	ID           string
	Owner        string
	Status       string
	Step         string
	InputParams  []byte
	OutputParams []byte
	Log          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Schema struct {
	ID        int64
	Name      string
	DBName    string
	TableName string
	Managed   bool
	CreatedAt time.Time
}

type Field struct {
	ID           int64
	SchemaID     int64
	Name         string
	Class        string
	Nullable     bool
	MaxLength    sql.NullInt32
	GeometryType sql.NullString
	CreatedAt    time.Time
}

type Barrier struct {
	ExecutionID string
	LayerName   string
	TableName   string
	Pending     int
	Failed      bool
	Done        bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Resource struct {
	ID           int64
	ExecutionID  string
	Name         string
	Alternate    string
	Handler      string
	Owner        string
	GeometryType sql.NullString
	SRID         sql.NullInt32
	RowCount     sql.NullInt64
	CreatedAt    time.Time
}
