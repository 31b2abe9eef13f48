package spreadsheet

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"inventorybot/internal/inventory"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
)

const (
	MIMETypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMETypeXLS  = "application/vnd.ms-excel"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoHeader        = errors.New("spreadsheet has no header row")
)

// missingSentinels are cell texts treated as "no value", matching what common
// spreadsheet exports write for empty or NaN cells.
var missingSentinels = map[string]bool{
	"#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true, "-1.#QNAN": true,
	"-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true, "<NA>": true,
	"N/A": true, "NA": true, "NULL": true, "NaN": true, "None": true,
	"n/a": true, "nan": true, "null": true,
}

// MissingColumnsError aborts a batch before any row is written
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// Sheet is the first worksheet of an upload: the raw header and the data rows in file order
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Row is one normalized data row. Values holds every schema field, nil meaning null.
type Row struct {
	Index    int // 1-based data row; file line is Index+1
	Values   map[string]any
	Problems []string
}

func (r Row) Line() int { return r.Index + 1 }

func (r Row) Value(field string) any { return r.Values[field] }

// String returns the field as text, false when it is null
func (r Row) String(field string) (string, bool) {
	switch v := r.Values[field].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	default:
		return fmt.Sprint(v), true
	}
}

// CheckType validates the declared MIME type against the accepted spreadsheet
// formats and confirms it by sniffing the payload.
func CheckType(declared string, payload []byte) error {
	if err := CheckDeclaredType(declared); err != nil {
		return err
	}

	detected := mimetype.Detect(payload)
	switch {
	case detected.Is(MIMETypeXLSX), detected.Is("application/zip"):
		// some writers order zip entries so that only the container is recognised;
		// the workbook reader rejects non-OOXML archives later
		return nil
	case detected.Is(MIMETypeXLS):
		return fmt.Errorf("%w: legacy .xls workbooks must be saved as .xlsx", ErrUnsupportedType)
	default:
		return fmt.Errorf("%w: content is %s", ErrUnsupportedType, detected.String())
	}
}

// CheckDeclaredType validates only the mime type announced by the client,
// so an obviously wrong upload can be refused before it is downloaded
func CheckDeclaredType(declared string) error {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != MIMETypeXLSX && declared != MIMETypeXLS {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, declared)
	}
	return nil
}

// Read parses the first sheet of an .xlsx payload, first row as header
func Read(payload []byte) (*Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 || isBlank(rows[0]) {
		return nil, ErrNoHeader
	}

	return &Sheet{Name: sheets[0], Header: rows[0], Rows: rows[1:]}, nil
}

// Normalize maps a sheet onto a schema. It fails with *MissingColumnsError when a
// required column is absent; per-cell problems are attached to the row instead.
func Normalize(sheet *Sheet, schema inventory.Schema) ([]Row, error) {
	header := CanonicalHeader(sheet.Header)
	position := make(map[string]int, len(header))
	for i, name := range header {
		position[name] = i
	}

	sourceOf := make([]int, len(schema.Fields))
	var missing []string
	for i, field := range schema.Fields {
		sourceOf[i] = -1
		for _, src := range field.Sources {
			if p, ok := position[src]; ok {
				sourceOf[i] = p
				break
			}
		}
		if sourceOf[i] < 0 && field.Required {
			missing = append(missing, field.Sources[0])
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	out := make([]Row, 0, len(sheet.Rows))
	for i, cells := range sheet.Rows {
		if isBlank(cells) {
			continue
		}
		row := Row{Index: i + 1, Values: make(map[string]any, len(schema.Fields))}
		for fi, field := range schema.Fields {
			var raw string
			if p := sourceOf[fi]; p >= 0 && p < len(cells) {
				raw = cells[p]
			}
			value, problem := clean(raw, field)
			row.Values[field.Name] = value
			if problem != "" {
				row.Problems = append(row.Problems, problem)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Load runs Read and Normalize
func Load(payload []byte, schema inventory.Schema) ([]Row, error) {
	sheet, err := Read(payload)
	if err != nil {
		return nil, err
	}
	return Normalize(sheet, schema)
}

// IsMissing reports whether a cell text stands for "no value"
func IsMissing(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed == "" || missingSentinels[trimmed]
}

func clean(raw string, field inventory.Field) (any, string) {
	if IsMissing(raw) {
		return nil, ""
	}
	value := strings.TrimSpace(raw)

	switch field.Kind {
	case inventory.KindInteger:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n, ""
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return nil, fmt.Sprintf("%s: not an integer: %q", field.Name, value)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which already overflows
		if f >= float64(math.MaxInt64) || f < float64(math.MinInt64) {
			return nil, fmt.Sprintf("%s: out of range: %q", field.Name, value)
		}
		return int64(f), ""
	default:
		return truncate(value, field.MaxLen), ""
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen])
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
