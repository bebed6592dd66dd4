package ingest

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/relieftrack/activity-import/internal/store"
)

// templateHeaders is the canonical column order for blank upload
// templates. Header matching is tolerant on the way back in, so minor
// edits to these don't break re-import.
var templateHeaders = []string{
	"Activity ID",
	"Activity Name",
	"Cluster",
	"Funder",
	"Planned Implementation Month",
	"Budget",
	"Disbursed",
	"Currency",
	"Implementation Status",
	"Key Notes",
}

// WriteTemplate writes a blank upload workbook to w: an empty data
// sheet with the canonical headers, plus a reference sheet listing the
// master values the importer will accept.
func WriteTemplate(ctx context.Context, st store.Store, w io.Writer) error {
	f := xlsx.NewFile()

	data, err := f.AddSheet("Activities")
	if err != nil {
		return eris.Wrap(err, "template: add data sheet")
	}
	header := data.AddRow()
	for _, h := range templateHeaders {
		header.AddCell().Value = h
	}

	if err := addReferenceSheet(ctx, st, f); err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "template: write workbook")
	}
	return nil
}

func addReferenceSheet(ctx context.Context, st store.Store, f *xlsx.File) error {
	ref, err := f.AddSheet("Reference")
	if err != nil {
		return eris.Wrap(err, "template: add reference sheet")
	}
	header := ref.AddRow()
	for _, h := range []string{"Clusters", "Funders", "Statuses", "Currencies"} {
		header.AddCell().Value = h
	}

	clusters, err := st.ListClusters(ctx)
	if err != nil {
		return eris.Wrap(err, "template: load clusters")
	}
	funders, err := st.ListFunders(ctx)
	if err != nil {
		return eris.Wrap(err, "template: load funders")
	}
	statuses, err := st.ListStatuses(ctx)
	if err != nil {
		return eris.Wrap(err, "template: load statuses")
	}
	currencies, err := st.ListCurrencies(ctx)
	if err != nil {
		return eris.Wrap(err, "template: load currencies")
	}

	n := len(clusters)
	for _, m := range []int{len(funders), len(statuses), len(currencies)} {
		if m > n {
			n = m
		}
	}
	for i := 0; i < n; i++ {
		row := ref.AddRow()
		cells := [4]string{}
		if i < len(clusters) {
			cells[0] = clusters[i].ShortName
		}
		if i < len(funders) {
			cells[1] = funders[i].Name
		}
		if i < len(statuses) {
			cells[2] = statuses[i].Name
		}
		if i < len(currencies) {
			cells[3] = currencies[i].Code
		}
		for _, v := range cells {
			row.AddCell().Value = v
		}
	}
	return nil
}
