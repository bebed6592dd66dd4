package ingest

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
)

// Table is a raw tabular file: one header row plus data rows, all as
// strings. Headers are already canonicalized by ReadTable.
type Table struct {
	Headers []string
	Rows    [][]string
}

// ReadTable reads a staged upload into a Table. The format is picked
// from the original filename's extension: .csv, or .xlsx/.xls via the
// first worksheet.
func ReadTable(path, originalName string) (*Table, error) {
	lower := strings.ToLower(originalName)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return readCSV(path)
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xls"):
		return readXLSX(path)
	default:
		return nil, eris.Errorf("ingest: unsupported file format %q (upload CSV or Excel)", originalName)
	}
}

// readCSV reads a CSV file, tolerating the encodings Excel and Windows
// exports commonly produce: UTF-8, UTF-8 with BOM, Windows-1252, Latin-1.
func readCSV(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv")
	}
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	if !utf8.Valid(raw) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			decoded, err = charmap.ISO8859_1.NewDecoder().Bytes(raw)
			if err != nil {
				return nil, eris.Wrap(err, "ingest: unsupported csv encoding")
			}
		}
		raw = decoded
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "ingest: parse csv")
		}
		records = append(records, rec)
	}
	return tableFromRecords(records)
}

func readXLSX(path string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return tableFromRecords(records)
}

func tableFromRecords(records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, eris.New("ingest: file has no header row")
	}
	return &Table{
		Headers: NormalizeHeaders(records[0]),
		Rows:    records[1:],
	}, nil
}
