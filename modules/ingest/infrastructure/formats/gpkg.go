package formats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	_ "modernc.org/sqlite"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
)

const gpkgMime = "application/geopackage+sqlite3"

// Declared SQLite types as the GeoPackage spec writes them. INTEGER and
// INT are 64-bit in a GeoPackage, hence bigint.
var gpkgFieldClasses = map[string]dataschema.FieldClass{
	"BOOLEAN":   dataschema.ClassBool,
	"TINYINT":   dataschema.ClassInteger,
	"SMALLINT":  dataschema.ClassInteger,
	"MEDIUMINT": dataschema.ClassInteger,
	"INT":       dataschema.ClassBigInt,
	"INTEGER":   dataschema.ClassBigInt,
	"FLOAT":     dataschema.ClassFloat,
	"DOUBLE":    dataschema.ClassFloat,
	"REAL":      dataschema.ClassFloat,
	"TEXT":      dataschema.ClassText,
	"VARCHAR":   dataschema.ClassText,
	"BLOB":      dataschema.ClassBinary,
	"DATE":      dataschema.ClassDate,
	"DATETIME":  dataschema.ClassDateTime,
	"GEOMETRY":  dataschema.ClassGeometry,
}

var geometryTypeNames = map[string]string{
	"POINT":              "Point",
	"LINESTRING":         "LineString",
	"POLYGON":            "Polygon",
	"MULTIPOINT":         "MultiPoint",
	"MULTILINESTRING":    "MultiLineString",
	"MULTIPOLYGON":       "MultiPolygon",
	"GEOMETRYCOLLECTION": "GeometryCollection",
	"GEOMETRY":           "Geometry",
}

// NormalizeGeometryType maps a raw geometry type name to its canonical
// wkb spelling. Unknown names pass through unchanged.
func NormalizeGeometryType(raw string) string {
	if name, ok := geometryTypeNames[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return name
	}
	return raw
}

type GeoPackageHandler struct{}

func NewGeoPackageHandler() *GeoPackageHandler {
	return &GeoPackageHandler{}
}

func (h *GeoPackageHandler) Alias() string {
	return "gpkg"
}

func (h *GeoPackageHandler) CanHandle(fs Fileset) bool {
	if strings.EqualFold(filepath.Ext(fs.BaseFile), ".gpkg") {
		return true
	}
	mime, err := mimetype.DetectFile(fs.BaseFile)
	if err != nil {
		return false
	}
	return mime.Is(gpkgMime)
}

func (h *GeoPackageHandler) IsValid(fs Fileset) error {
	if _, err := os.Stat(fs.BaseFile); err != nil {
		return errors.Wrap(err, "base file is not readable")
	}
	db, err := sql.Open("sqlite", fs.BaseFile)
	if err != nil {
		return errors.Wrap(err, "failed to open geopackage")
	}
	defer func() { _ = db.Close() }()

	var count int
	err = db.QueryRow(
		`SELECT COUNT(*) FROM gpkg_contents WHERE data_type IN ('features', 'attributes')`,
	).Scan(&count)
	if err != nil {
		return errors.Wrap(err, "file is not a geopackage")
	}
	if count == 0 {
		return errors.New("geopackage contains no importable layers")
	}
	return nil
}

func (h *GeoPackageHandler) Open(fs Fileset) (Dataset, error) {
	db, err := sql.Open("sqlite", fs.BaseFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open geopackage")
	}
	defer func() { _ = db.Close() }()

	rows, err := db.Query(`
		SELECT c.table_name, g.column_name, g.geometry_type_name, g.srs_id
		FROM gpkg_contents c
		LEFT JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type IN ('features', 'attributes')
		ORDER BY c.table_name`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate geopackage layers")
	}
	defer rows.Close()

	var layers []Layer
	for rows.Next() {
		var tableName string
		var geomColumn, geomType sql.NullString
		var srid sql.NullInt64
		if err := rows.Scan(&tableName, &geomColumn, &geomType, &srid); err != nil {
			return nil, errors.Wrap(err, "failed to scan geopackage layer")
		}
		layer := Layer{Name: tableName}
		if geomColumn.Valid {
			layer.GeometryColumn = geomColumn.String
			layer.GeometryType = NormalizeGeometryType(geomType.String)
			layer.SRID = int(srid.Int64)
		}
		layers = append(layers, layer)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to enumerate geopackage layers")
	}

	for i := range layers {
		fields, err := h.tableFields(db, layers[i].Name, layers[i].GeometryColumn)
		if err != nil {
			return nil, err
		}
		layers[i].Fields = fields
	}
	return &memoryDataset{layers: layers}, nil
}

func (h *GeoPackageHandler) FieldClass(sourceType string) (dataschema.FieldClass, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(sourceType))
	if idx := strings.Index(normalized, "("); idx > 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	class, ok := gpkgFieldClasses[normalized]
	return class, ok
}

// tableFields reads the column list of one layer table, skipping the
// primary key and the geometry column.
func (h *GeoPackageHandler) tableFields(db *sql.DB, table, geometryColumn string) ([]FieldDescriptor, error) {
	quoted := strings.ReplaceAll(table, `"`, `""`)
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, quoted))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read columns of %q", table)
	}
	defer rows.Close()

	var fields []FieldDescriptor
	for rows.Next() {
		var cid int
		var name, declaredType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrapf(err, "failed to scan column of %q", table)
		}
		if pk > 0 || strings.EqualFold(name, geometryColumn) {
			continue
		}
		fields = append(fields, FieldDescriptor{Name: name, SourceType: declaredType})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read columns of %q", table)
	}
	return fields, nil
}
