package formats

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
)

// sniffRowLimit caps how many data rows type sniffing reads.
const sniffRowLimit = 100

var csvFieldClasses = map[string]dataschema.FieldClass{
	"integer": dataschema.ClassBigInt,
	"real":    dataschema.ClassFloat,
	"text":    dataschema.ClassText,
}

type CSVHandler struct{}

func NewCSVHandler() *CSVHandler {
	return &CSVHandler{}
}

func (h *CSVHandler) Alias() string {
	return "csv"
}

func (h *CSVHandler) CanHandle(fs Fileset) bool {
	if strings.EqualFold(filepath.Ext(fs.BaseFile), ".csv") {
		return true
	}
	mime, err := mimetype.DetectFile(fs.BaseFile)
	if err != nil {
		return false
	}
	return mime.Is("text/csv")
}

func (h *CSVHandler) IsValid(fs Fileset) error {
	header, _, err := h.read(fs.BaseFile, 0)
	if err != nil {
		return err
	}
	if len(header) == 0 {
		return errors.New("csv file has no header row")
	}
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			return errors.Wrapf(errors.New("empty column name"), "header column %d", i+1)
		}
	}
	return nil
}

func (h *CSVHandler) Open(fs Fileset) (Dataset, error) {
	header, records, err := h.read(fs.BaseFile, sniffRowLimit)
	if err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, errors.New("csv file has no header row")
	}

	fields := make([]FieldDescriptor, 0, len(header))
	for i, name := range header {
		values := make([]string, 0, len(records))
		for _, record := range records {
			if i < len(record) {
				values = append(values, record[i])
			}
		}
		fields = append(fields, FieldDescriptor{
			Name:       strings.TrimSpace(name),
			SourceType: sniffSourceType(values),
		})
	}

	name := strings.TrimSuffix(filepath.Base(fs.BaseFile), filepath.Ext(fs.BaseFile))
	return &memoryDataset{layers: []Layer{{Name: name, Fields: fields}}}, nil
}

func (h *CSVHandler) FieldClass(sourceType string) (dataschema.FieldClass, bool) {
	class, ok := csvFieldClasses[strings.ToLower(strings.TrimSpace(sourceType))]
	return class, ok
}

func (h *CSVHandler) read(path string, limit int) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open csv file")
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, errors.New("csv file is empty")
		}
		return nil, nil, errors.Wrap(err, "failed to read csv header")
	}

	var records [][]string
	for len(records) < limit {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to read csv row")
		}
		records = append(records, record)
	}
	return header, records, nil
}

// sniffSourceType types a column from sampled values: all integers, all
// numerics, otherwise text. Blank values do not vote.
func sniffSourceType(values []string) string {
	sawAny := false
	isInteger, isReal := true, true
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		sawAny = true
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			isInteger = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			isReal = false
		}
	}
	if !sawAny {
		return "text"
	}
	if isInteger {
		return "integer"
	}
	if isReal {
		return "real"
	}
	return "text"
}
