package formats

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/spatialops/importer/modules/ingest/domain/entities/dataschema"
)

const xlsxMime = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type XLSXHandler struct{}

func NewXLSXHandler() *XLSXHandler {
	return &XLSXHandler{}
}

func (h *XLSXHandler) Alias() string {
	return "xlsx"
}

func (h *XLSXHandler) CanHandle(fs Fileset) bool {
	if strings.EqualFold(filepath.Ext(fs.BaseFile), ".xlsx") {
		return true
	}
	mime, err := mimetype.DetectFile(fs.BaseFile)
	if err != nil {
		return false
	}
	return mime.Is(xlsxMime)
}

func (h *XLSXHandler) IsValid(fs Fileset) error {
	f, err := excelize.OpenFile(fs.BaseFile)
	if err != nil {
		return errors.Wrap(err, "failed to open workbook")
	}
	defer func() { _ = f.Close() }()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return errors.Wrapf(err, "failed to read sheet %q", sheet)
		}
		if sheetHeader(rows) != nil {
			return nil
		}
	}
	return errors.New("workbook contains no non-empty sheets")
}

func (h *XLSXHandler) Open(fs Fileset) (Dataset, error) {
	f, err := excelize.OpenFile(fs.BaseFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open workbook")
	}
	defer func() { _ = f.Close() }()

	var layers []Layer
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read sheet %q", sheet)
		}
		header := sheetHeader(rows)
		if header == nil {
			continue
		}

		data := rows[1:]
		if len(data) > sniffRowLimit {
			data = data[:sniffRowLimit]
		}

		fields := make([]FieldDescriptor, 0, len(header))
		for i, name := range header {
			if strings.TrimSpace(name) == "" {
				continue
			}
			values := make([]string, 0, len(data))
			for _, row := range data {
				if i < len(row) {
					values = append(values, row[i])
				}
			}
			fields = append(fields, FieldDescriptor{
				Name:       strings.TrimSpace(name),
				SourceType: sniffSourceType(values),
			})
		}
		layers = append(layers, Layer{Name: sheet, Fields: fields})
	}
	if len(layers) == 0 {
		return nil, errors.New("workbook contains no non-empty sheets")
	}
	return &memoryDataset{layers: layers}, nil
}

func (h *XLSXHandler) FieldClass(sourceType string) (dataschema.FieldClass, bool) {
	class, ok := csvFieldClasses[strings.ToLower(strings.TrimSpace(sourceType))]
	return class, ok
}

// sheetHeader returns the first row when the sheet has one with at least
// one named column, nil otherwise.
func sheetHeader(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	for _, cell := range rows[0] {
		if strings.TrimSpace(cell) != "" {
			return rows[0]
		}
	}
	return nil
}
