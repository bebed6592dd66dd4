package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadTable_CSV(t *testing.T) {
	csv := "Activity Name,Cluster,Budget\nBorehole Drilling,WASH,1000\nSchool Feeding,Education,2000\n"
	path := writeTempFile(t, "upload.csv", []byte(csv))

	table, err := ReadTable(path, "upload.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{ColActivityName, ColCluster, ColBudget}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Borehole Drilling", table.Rows[0][0])
}

func TestReadTable_CSVWithBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Activity Name\nBorehole\n")...)
	path := writeTempFile(t, "bom.csv", data)

	table, err := ReadTable(path, "bom.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{ColActivityName}, table.Headers)
}

func TestReadTable_CSVWindows1252(t *testing.T) {
	// 0xE9 is é in Windows-1252 and invalid UTF-8 on its own.
	data := []byte("Activity Name\nCr\xe9che Support\n")
	path := writeTempFile(t, "legacy.csv", data)

	table, err := ReadTable(path, "legacy.csv")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Crèche Support", table.Rows[0][0])
}

func TestReadTable_CSVRaggedRows(t *testing.T) {
	csv := "Activity Name,Cluster,Budget\nBorehole,WASH\nFeeding,Education,2000,extra\n"
	path := writeTempFile(t, "ragged.csv", []byte(csv))

	table, err := ReadTable(path, "ragged.csv")
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Len(t, table.Rows[0], 2)
	assert.Len(t, table.Rows[1], 4)
}

func TestReadTable_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Activities")
	require.NoError(t, err)
	for _, rec := range [][]string{
		{"Activity Name", "Implementation Status"},
		{"Borehole Drilling", "Planned"},
	} {
		row := sheet.AddRow()
		for _, v := range rec {
			row.AddCell().Value = v
		}
	}
	path := filepath.Join(t.TempDir(), "upload.xlsx")
	require.NoError(t, f.Save(path))

	table, err := ReadTable(path, "upload.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []string{ColActivityName, ColStatus}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Borehole Drilling", table.Rows[0][0])
}

func TestReadTable_UnsupportedFormat(t *testing.T) {
	path := writeTempFile(t, "upload.pdf", []byte("%PDF"))
	_, err := ReadTable(path, "upload.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file format")
}

func TestReadTable_EmptyFile(t *testing.T) {
	path := writeTempFile(t, "empty.csv", nil)
	_, err := ReadTable(path, "empty.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}
