package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relieftrack/activity-import/internal/model"
	"github.com/relieftrack/activity-import/internal/store"
)

// newTestStore opens a throwaway SQLite store seeded with the master
// data the pipeline tests assume.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	for _, s := range []model.Status{
		{Name: "Planned", IsDefault: true},
		{Name: "In Progress"},
		{Name: "Fully Implemented"},
		{Name: "Cancelled"},
	} {
		_, err := st.CreateStatus(ctx, s)
		require.NoError(t, err)
	}
	for _, c := range []model.Currency{
		{Code: "ZMW", Name: "Zambian Kwacha", Symbol: "K", IsDefault: true},
		{Code: "USD", Name: "US Dollar", Symbol: "$"},
	} {
		_, err := st.CreateCurrency(ctx, c)
		require.NoError(t, err)
	}
	for _, f := range []model.Funder{
		{Code: "UNICEF", Name: "UNICEF", Active: true},
		{Code: "WFP", Name: "World Food Programme", Active: true},
		{Code: "GRZNAT", Name: "Government of the Republic of Zambia", Active: true},
	} {
		_, err := st.CreateFunder(ctx, f)
		require.NoError(t, err)
	}
	for _, c := range []model.Cluster{
		{ShortName: "WASH", FullName: "Water Sanitation and Hygiene"},
		{ShortName: "EDU", FullName: "Education"},
		{ShortName: "HEALTH", FullName: "Health"},
	} {
		_, err := st.CreateCluster(ctx, c)
		require.NoError(t, err)
	}
	return st
}

func newTestResolver(t *testing.T, st store.Store) *Resolver {
	t.Helper()
	res, err := NewResolver(context.Background(), st, "Planned")
	require.NoError(t, err)
	return res
}
