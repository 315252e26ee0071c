package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/warp/lease-engine/factory"
)

// =============================================================================
// REFERENCE LOADERS
// =============================================================================
//
// Reference figures arrive as the legacy workbook (one sheet, columns
// category / metric / key / value) or as YAML/JSON lists of the same rows.

// ReferenceSheet is the preferred sheet name. Any workbook without it is
// read from its first sheet.
const ReferenceSheet = "reference"

var referenceColumns = []string{"category", "metric", "key", "value"}

type valueRow struct {
	Category string       `json:"category" yaml:"category"`
	Metric   string       `json:"metric" yaml:"metric"`
	Key      string       `json:"key" yaml:"key"`
	Value    factory.Text `json:"value" yaml:"value"`
}

func (r valueRow) toValue(line int) (Value, error) {
	v, err := decimal.NewFromString(strings.ReplaceAll(r.Value.String(), ",", ""))
	if err != nil {
		return Value{}, fmt.Errorf("reference row %d (%s.%s[%s]): value %q: %w", line, r.Category, r.Metric, r.Key, r.Value, err)
	}
	return Value{
		Category: strings.TrimSpace(r.Category),
		Metric:   strings.TrimSpace(r.Metric),
		Key:      strings.TrimSpace(r.Key),
		Value:    v,
	}, nil
}

func toValues(rows []valueRow) ([]Value, error) {
	out := make([]Value, 0, len(rows))
	for i, r := range rows {
		v, err := r.toValue(i + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func LoadJSON(r io.Reader) ([]Value, error) {
	var rows []valueRow
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse reference JSON: %w", err)
	}
	return toValues(rows)
}

func LoadYAML(r io.Reader) ([]Value, error) {
	var rows []valueRow
	if err := yaml.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse reference YAML: %w", err)
	}
	return toValues(rows)
}

// LoadXLSX reads the reference sheet. The header row may order the four
// columns freely; blank rows are skipped.
func LoadXLSX(r io.Reader) ([]Value, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("reference workbook has no sheets")
	}
	sheet := sheets[0]
	for _, s := range sheets {
		if strings.EqualFold(s, ReferenceSheet) {
			sheet = s
			break
		}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col := make(map[string]int, len(referenceColumns))
	for i, h := range rows[0] {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range referenceColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("reference sheet %q: missing column %q", sheet, name)
		}
	}
	cell := func(row []string, name string) string {
		if i := col[name]; i < len(row) {
			return row[i]
		}
		return ""
	}

	var out []Value
	for i, row := range rows[1:] {
		if strings.TrimSpace(strings.Join(row, "")) == "" {
			continue
		}
		v, err := valueRow{
			Category: cell(row, "category"),
			Metric:   cell(row, "metric"),
			Key:      cell(row, "key"),
			Value:    factory.Text(cell(row, "value")),
		}.toValue(i + 2)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// LoadReferenceFile dispatches on the file extension.
func LoadReferenceFile(path string) ([]Value, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSON(fh)
	case ".yaml", ".yml":
		return LoadYAML(fh)
	case ".xlsx":
		return LoadXLSX(fh)
	}
	return nil, fmt.Errorf("unsupported reference format %q", filepath.Ext(path))
}

// WriteXLSX writes values in the layout LoadXLSX reads, for seeding a
// reference workbook from a trusted run.
func WriteXLSX(w io.Writer, values []Value) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", ReferenceSheet); err != nil {
		return err
	}
	header := []interface{}{"category", "metric", "key", "value"}
	if err := f.SetSheetRow(ReferenceSheet, "A1", &header); err != nil {
		return err
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{v.Category, v.Metric, v.Key, v.Value.String()}
		if err := f.SetSheetRow(ReferenceSheet, cell, &row); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}
