package spreadsheet

import (
	"errors"
	"strings"
	"testing"

	"inventorybot/internal/inventory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &rows[i]))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func ftm(t *testing.T) inventory.Schema {
	t.Helper()
	s, err := inventory.SchemaFor(inventory.CategoryFTM)
	require.NoError(t, err)
	return s
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Nama GPON", "nama_gpon"},
		{"  IP ", "ip"},
		{"OTN-CROSS METRO", "otn_cross_metro"},
		{"No  Port\tPanel", "no_port_panel"},
		{"a - b", "a_b"},
		{"already_canonical", "already_canonical"},
		{"No\u00a0Port\u00a0Panel", "no_port_panel"},
		{"Nama \u2003GPON", "nama_gpon"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Canonicalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Canonicalize(got), "canonicalization must be idempotent")
		})
	}
}

func TestDedupe(t *testing.T) {
	t.Run("Should suffix repeated names in occurrence order", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b", "a_1", "a_2"}, Dedupe([]string{"a", "b", "a", "a"}))
	})

	t.Run("Should skip suffixes already used by other columns", func(t *testing.T) {
		assert.Equal(t, []string{"a", "a_1", "a_2"}, Dedupe([]string{"a", "a_1", "a"}))
	})

	t.Run("Should name empty headers by position", func(t *testing.T) {
		assert.Equal(t, []string{"a", "unnamed_1"}, Dedupe([]string{"a", ""}))
	})
}

func TestNormalizeDuplicateColumns(t *testing.T) {
	payload := buildWorkbook(t, [][]any{
		{"Nama GPON", "IP", "No Port Panel", "No Port Panel"},
		{"GPON-01", "10.0.0.1", "A", "B"},
	})

	rows, err := Load(payload, ftm(t))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "A", rows[0].Value("no_port_panel_eakses"))
	assert.Equal(t, "B", rows[0].Value("no_port_panel_oakses"))
	_, exists := rows[0].Values["no_port_panel"]
	assert.False(t, exists, "source name must not leak into the target row")
}

func TestNormalizeValues(t *testing.T) {
	longName := strings.Repeat("x", 150)
	payload := buildWorkbook(t, [][]any{
		{"nama_gpon", "ip", "sto", "Kapasitas Kabel Feeder Utama", "Status Feeder"},
		{"  GPON-01 ", "10.0.0.1", "NaN", 96, "   "},
		{nil, nil, nil, nil, nil},
		{longName, "10.0.0.2", "KPO", "12.5", "#N/A"},
	})

	rows, err := Load(payload, ftm(t))
	require.NoError(t, err)
	require.Len(t, rows, 2, "blank rows are skipped")

	t.Run("Should trim, null sentinels and coerce integers", func(t *testing.T) {
		r := rows[0]
		assert.Equal(t, 1, r.Index)
		assert.Equal(t, 2, r.Line())
		assert.Equal(t, "GPON-01", r.Value("nama_gpon"))
		assert.Nil(t, r.Value("sto"))
		assert.Nil(t, r.Value("status_feeder"))
		assert.Equal(t, int64(96), r.Value("kapasitas_kabel_feeder_utama"))
		assert.Empty(t, r.Problems)
	})

	t.Run("Should fill every schema field", func(t *testing.T) {
		for _, name := range ftm(t).FieldNames() {
			_, ok := rows[0].Values[name]
			assert.True(t, ok, name)
		}
	})

	t.Run("Should keep file alignment and truncate long text", func(t *testing.T) {
		r := rows[1]
		assert.Equal(t, 3, r.Index)
		name, ok := r.String("nama_gpon")
		require.True(t, ok)
		assert.Len(t, name, 100)
		assert.Nil(t, r.Value("status_feeder"))
	})

	t.Run("Should record malformed integers as row problems", func(t *testing.T) {
		r := rows[1]
		assert.Nil(t, r.Value("kapasitas_kabel_feeder_utama"))
		require.Len(t, r.Problems, 1)
		assert.Contains(t, r.Problems[0], "kapasitas_kabel_feeder_utama")
	})

	t.Run("Should reject integers outside the int64 range", func(t *testing.T) {
		field, ok := ftm(t).Field("kapasitas_kabel_feeder_utama")
		require.True(t, ok)

		for _, raw := range []string{"99999999999999999999", "1e30", "-1e30", "9223372036854775808"} {
			value, problem := clean(raw, field)
			assert.Nil(t, value, raw)
			assert.Contains(t, problem, "out of range", raw)
		}

		value, problem := clean("1e18", field)
		assert.Equal(t, int64(1e18), value)
		assert.Empty(t, problem)
	})
}

func TestNormalizeMissingColumns(t *testing.T) {
	payload := buildWorkbook(t, [][]any{
		{"STO", "Card"},
		{"KPO", "1"},
	})

	_, err := Load(payload, ftm(t))
	require.Error(t, err)

	var missing *MissingColumnsError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"nama_gpon", "ip"}, missing.Columns)
}

func TestRead(t *testing.T) {
	t.Run("Should reject an empty workbook", func(t *testing.T) {
		_, err := Read(buildWorkbook(t, nil))
		assert.ErrorIs(t, err, ErrNoHeader)
	})

	t.Run("Should reject garbage", func(t *testing.T) {
		_, err := Read([]byte("not a workbook"))
		assert.Error(t, err)
	})
}

func TestCheckType(t *testing.T) {
	payload := buildWorkbook(t, [][]any{{"nama_gpon"}})

	t.Run("Should accept an xlsx upload", func(t *testing.T) {
		assert.NoError(t, CheckType(MIMETypeXLSX, payload))
	})

	t.Run("Should reject undeclared spreadsheet types", func(t *testing.T) {
		err := CheckType("application/pdf", payload)
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("Should reject content that is not a workbook", func(t *testing.T) {
		err := CheckType(MIMETypeXLSX, []byte("plain text pretending"))
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "   ", "NaN", "nan", "None", "NULL", "#N/A", " n/a "} {
		assert.True(t, IsMissing(v), v)
	}
	for _, v := range []string{"0", "-", "KPO", "none of these"} {
		assert.False(t, IsMissing(v), v)
	}
}
