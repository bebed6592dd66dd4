package ingest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func TestWriteTemplate(t *testing.T) {
	st := newTestStore(t)

	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(context.Background(), st, &buf))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	data := f.Sheets[0]
	assert.Equal(t, "Activities", data.Name)
	require.NotEmpty(t, data.Rows)
	header := data.Rows[0]
	require.Len(t, header.Cells, len(templateHeaders))
	assert.Equal(t, "Activity ID", header.Cells[0].String())
	assert.Equal(t, "Activity Name", header.Cells[1].String())

	ref := f.Sheets[1]
	assert.Equal(t, "Reference", ref.Name)
	// Clusters column lists the seeded master values.
	var clusters []string
	for _, row := range ref.Rows[1:] {
		if len(row.Cells) > 0 && row.Cells[0].String() != "" {
			clusters = append(clusters, row.Cells[0].String())
		}
	}
	assert.Contains(t, clusters, "WASH")
	assert.Contains(t, clusters, "EDU")
}

func TestWriteTemplate_RoundTripsThroughReader(t *testing.T) {
	st := newTestStore(t)

	var buf bytes.Buffer
	require.NoError(t, WriteTemplate(context.Background(), st, &buf))

	// A filled-in template parses back with every canonical column found.
	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	headers := make([]string, 0, len(templateHeaders))
	for _, cell := range f.Sheets[0].Rows[0].Cells {
		headers = append(headers, cell.String())
	}
	normalized := NormalizeHeaders(headers)
	idx := indexColumns(normalized)
	for _, col := range []string{
		ColActivityID, ColActivityName, ColCluster, ColFunder,
		ColPlannedMonth, ColBudget, ColDisbursed, ColCurrency, ColStatus, ColNotes,
	} {
		assert.True(t, idx.has(col), "template should round-trip column %s", col)
	}
}
