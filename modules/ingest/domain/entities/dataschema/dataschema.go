package dataschema

import (
	"context"
	"time"
)

// FieldClass is the resolvable storage class a source field maps to.
// Format handlers own the mapping from their native declared types.
type FieldClass string

const (
	ClassInteger  FieldClass = "integer"
	ClassBigInt   FieldClass = "bigint"
	ClassFloat    FieldClass = "float"
	ClassText     FieldClass = "text"
	ClassBool     FieldClass = "bool"
	ClassDate     FieldClass = "date"
	ClassDateTime FieldClass = "datetime"
	ClassTime     FieldClass = "time"
	ClassBinary   FieldClass = "binary"
	ClassGeometry FieldClass = "geometry"
)

func (c FieldClass) IsValid() bool {
	switch c {
	case ClassInteger, ClassBigInt, ClassFloat, ClassText, ClassBool,
		ClassDate, ClassDateTime, ClassTime, ClassBinary, ClassGeometry:
		return true
	}
	return false
}

// Schema is the registry record of one provisioned layer schema. The
// logical name is unique per datastore; the table name is what ogr2ogr
// writes into.
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
	Class        FieldClass
	Nullable     bool
	MaxLength    *int
	GeometryType *string
	CreatedAt    time.Time
}

// FieldDefinition is the serialized form a field travels in between the
// coordinator and the batch tasks. Class stays a plain string: an
// unmappable source type produces an empty class here and the batch
// task rejects it.
type FieldDefinition struct {
	Name         string `json:"name"`
	Class        string `json:"class"`
	GeometryType string `json:"geometry_type,omitempty"`
}

type Repository interface {
	// GetOrCreate returns the schema matching (db_name, name), creating
	// it first when absent. The boolean reports whether this call created
	// the record. Concurrent callers racing on the same name all receive
	// the same record.
	GetOrCreate(ctx context.Context, s *Schema) (*Schema, bool, error)
	GetByID(ctx context.Context, id int64) (*Schema, error)
	GetByName(ctx context.Context, dbName, name string) (*Schema, error)
	GetByTableName(ctx context.Context, dbName, tableName string) (*Schema, error)
	// Delete removes the schema record; field records cascade.
	Delete(ctx context.Context, id int64) error

	CreateFields(ctx context.Context, fields []*Field) error
	// UpdateFieldByName rewrites the field matching (schema_id, name) and
	// reports whether such a field existed.
	UpdateFieldByName(ctx context.Context, f *Field) (bool, error)
	ListFields(ctx context.Context, schemaID int64) ([]*Field, error)
}
