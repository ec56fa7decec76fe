package tenants

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ExportFile is an encoded export ready to be sent as an attachment.
type ExportFile struct {
	FileName    string
	ContentType string
	Body        []byte
}

func encodeExport(format string, tenant Tenant, tables []Table, now time.Time) (ExportFile, error) {
	base := fmt.Sprintf("export-%s-%s", exportSlug(tenant), now.Format("2006-01-02"))
	switch format {
	case FormatJSON:
		body, err := encodeJSON(tenant, tables, now)
		return ExportFile{FileName: base + ".json", ContentType: "application/json", Body: body}, err
	case FormatCSV:
		return ExportFile{FileName: base + ".csv", ContentType: "text/csv; charset=utf-8", Body: encodeCSV(tables)}, nil
	case FormatXLSX:
		body, err := encodeXLSX(tables)
		return ExportFile{
			FileName:    base + ".xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Body:        body,
		}, err
	default:
		return ExportFile{}, ErrUnsupportedFormat
	}
}

func encodeJSON(tenant Tenant, tables []Table, now time.Time) ([]byte, error) {
	data := make(map[string][]map[string]any, len(tables))
	for _, t := range tables {
		data[t.Name] = t.Rows
	}
	return json.MarshalIndent(map[string]any{
		"tenant":     tenant,
		"exportedAt": now.UTC().Format(time.RFC3339),
		"data":       data,
	}, "", "  ")
}

// encodeCSV writes one "# <table>" section per table. Each non-empty section
// has a header row and all values are double-quoted and ';'-separated.
func encodeCSV(tables []Table) []byte {
	var b strings.Builder
	for i, t := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("# " + t.Name + "\n")
		if len(t.Rows) == 0 {
			continue
		}
		writeCSVRow(&b, stringsToAny(t.Columns))
		for _, row := range t.Rows {
			vals := make([]any, len(t.Columns))
			for j, c := range t.Columns {
				vals[j] = row[c]
			}
			writeCSVRow(&b, vals)
		}
	}
	return []byte(b.String())
}

func writeCSVRow(b *strings.Builder, vals []any) {
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(cellString(v), `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

func encodeXLSX(tables []Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(t.Name); err != nil {
			return nil, err
		}
		if len(t.Rows) == 0 {
			continue
		}
		header, _ := excelize.CoordinatesToCellName(1, 1)
		if err := f.SetSheetRow(t.Name, header, &t.Columns); err != nil {
			return nil, err
		}
		for r, row := range t.Rows {
			vals := make([]any, len(t.Columns))
			for j, c := range t.Columns {
				vals[j] = cellString(row[c])
			}
			cell, _ := excelize.CoordinatesToCellName(1, r+2)
			if err := f.SetSheetRow(t.Name, cell, &vals); err != nil {
				return nil, err
			}
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func exportSlug(t Tenant) string {
	if t.Slug != "" {
		return t.Slug
	}
	return t.ID
}
