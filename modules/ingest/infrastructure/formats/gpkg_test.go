package formats

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
)

func writeTestGeoPackage(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	stmts := []string{
		`CREATE TABLE gpkg_contents (
			table_name TEXT NOT NULL PRIMARY KEY,
			data_type TEXT NOT NULL,
			identifier TEXT,
			srs_id INTEGER
		)`,
		`CREATE TABLE gpkg_geometry_columns (
			table_name TEXT NOT NULL,
			column_name TEXT NOT NULL,
			geometry_type_name TEXT NOT NULL,
			srs_id INTEGER NOT NULL,
			z TINYINT NOT NULL,
			m TINYINT NOT NULL
		)`,
		`CREATE TABLE rivers (
			fid INTEGER PRIMARY KEY AUTOINCREMENT,
			geom GEOMETRY,
			name TEXT(255),
			discharge DOUBLE,
			basin_id MEDIUMINT,
			observed DATETIME
		)`,
		`CREATE TABLE census (
			fid INTEGER PRIMARY KEY AUTOINCREMENT,
			region TEXT,
			population INT
		)`,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, srs_id)
		 VALUES ('rivers', 'features', 'rivers', 4326), ('census', 'attributes', 'census', 0)`,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m)
		 VALUES ('rivers', 'geom', 'MULTILINESTRING', 4326, 0, 0)`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func TestGeoPackageHandler_Open_EnumeratesLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waterways.gpkg")
	writeTestGeoPackage(t, path)

	handler := NewGeoPackageHandler()
	fs := Fileset{BaseFile: path}
	require.True(t, handler.CanHandle(fs))
	require.NoError(t, handler.IsValid(fs))

	ds, err := handler.Open(fs)
	require.NoError(t, err)
	defer func() { require.NoError(t, ds.Close()) }()

	layers := ds.Layers()
	require.Len(t, layers, 2)

	census := layers[0]
	require.Equal(t, "census", census.Name)
	require.Empty(t, census.GeometryColumn)
	require.Equal(t, []FieldDescriptor{
		{Name: "region", SourceType: "TEXT"},
		{Name: "population", SourceType: "INT"},
	}, census.Fields)

	rivers := layers[1]
	require.Equal(t, "rivers", rivers.Name)
	require.Equal(t, "geom", rivers.GeometryColumn)
	require.Equal(t, "MultiLineString", rivers.GeometryType)
	require.Equal(t, 4326, rivers.SRID)
	require.Equal(t, []FieldDescriptor{
		{Name: "name", SourceType: "TEXT(255)"},
		{Name: "discharge", SourceType: "DOUBLE"},
		{Name: "basin_id", SourceType: "MEDIUMINT"},
		{Name: "observed", SourceType: "DATETIME"},
	}, rivers.Fields)
}

func TestGeoPackageHandler_FieldClass(t *testing.T) {
	handler := NewGeoPackageHandler()

	cases := map[string]dataschema.FieldClass{
		"TEXT(255)": dataschema.ClassText,
		"text":      dataschema.ClassText,
		"INTEGER":   dataschema.ClassBigInt,
		"MEDIUMINT": dataschema.ClassInteger,
		"DOUBLE":    dataschema.ClassFloat,
		"BOOLEAN":   dataschema.ClassBool,
		"DATETIME":  dataschema.ClassDateTime,
		"BLOB":      dataschema.ClassBinary,
	}
	for sourceType, want := range cases {
		class, ok := handler.FieldClass(sourceType)
		require.True(t, ok, sourceType)
		require.Equal(t, want, class, sourceType)
	}

	_, ok := handler.FieldClass("GEOGRAPHY")
	require.False(t, ok)
}

func TestGeoPackageHandler_IsValid_RejectsNonGeoPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.gpkg")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	handler := NewGeoPackageHandler()
	require.Error(t, handler.IsValid(Fileset{BaseFile: path}))
}

func TestNormalizeGeometryType(t *testing.T) {
	require.Equal(t, "MultiPolygon", NormalizeGeometryType("MULTIPOLYGON"))
	require.Equal(t, "Point", NormalizeGeometryType(" point "))
	require.Equal(t, "CIRCULARSTRING", NormalizeGeometryType("CIRCULARSTRING"))
}
