package ingest

import (
	"context"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relieftrack/activity-import/internal/model"
)

func TestResolver_StatusExactAndDefault(t *testing.T) {
	st := newTestStore(t)
	res := newTestResolver(t, st)

	s, ok := res.Status("planned")
	require.True(t, ok)
	assert.Equal(t, "Planned", s.Name)

	s, ok = res.Status("FULLY IMPLEMENTED")
	require.True(t, ok)
	assert.Equal(t, "Fully Implemented", s.Name)

	_, ok = res.Status("Done")
	assert.False(t, ok)

	require.NotNil(t, res.DefaultStatus())
	assert.Equal(t, "Planned", res.DefaultStatus().Name)
}

func TestResolver_ConfiguredDefaultStatusFallback(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// No status carries the default flag in this store.
	_, err := st.CreateStatus(ctx, model.Status{Name: "Proposed"})
	require.NoError(t, err)

	res, err := NewResolver(ctx, st, "Proposed")
	require.NoError(t, err)
	// The flagged Planned status still wins over the configured name.
	assert.Equal(t, "Planned", res.DefaultStatus().Name)
}

func TestResolver_FunderExactAndFuzzy(t *testing.T) {
	st := newTestStore(t)
	res := newTestResolver(t, st)

	f := res.Funder("unicef")
	require.NotNil(t, f)
	assert.Equal(t, "UNICEF", f.Name)

	assert.Nil(t, res.Funder("World Food"))
	f = res.FuzzyFunder("World Food")
	require.NotNil(t, f)
	assert.Equal(t, "World Food Programme", f.Name)

	assert.Nil(t, res.FuzzyFunder("Gates Foundation"))
}

func TestResolver_FuzzyMultibyteToken(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateFunder(ctx, model.Funder{Code: "EERLF", Name: "ÉÉ Relief", Active: true})
	require.NoError(t, err)
	_, err = st.CreateFunder(ctx, model.Funder{Code: "EEEERLF", Name: "ÉÉÉÉ Relief", Active: true})
	require.NoError(t, err)
	res := newTestResolver(t, st)

	// The needle is the first four runes, not the first four bytes, so
	// "éééé" must not degrade to "éé" and match the shorter name.
	f := res.FuzzyFunder("ÉÉÉÉ Emergency Appeal")
	require.NotNil(t, f)
	assert.Equal(t, "ÉÉÉÉ Relief", f.Name)

	suggestions := res.SuggestFunders("ÉÉÉÉ Emergency Appeal")
	assert.Equal(t, []string{"ÉÉÉÉ Relief"}, suggestions)
}

func TestResolver_ClusterShortAndFullName(t *testing.T) {
	st := newTestStore(t)
	res := newTestResolver(t, st)

	c := res.Cluster("wash")
	require.NotNil(t, c)
	assert.Equal(t, "WASH", c.ShortName)

	c = res.Cluster("Water Sanitation and Hygiene")
	require.NotNil(t, c)
	assert.Equal(t, "WASH", c.ShortName)

	assert.Nil(t, res.Cluster("Nutrition"))
}

func TestResolver_SuggestionsCapped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_, err := st.CreateFunder(ctx, model.Funder{
			Code:   fmt.Sprintf("HELP%d", i),
			Name:   fmt.Sprintf("Helping Hands %d", i),
			Active: true,
		})
		require.NoError(t, err)
	}
	res := newTestResolver(t, st)

	suggestions := res.SuggestFunders("Helpful Org")
	assert.Len(t, suggestions, maxSuggestions)
}

func TestResolver_CurrencyLookup(t *testing.T) {
	st := newTestStore(t)
	res := newTestResolver(t, st)

	c := res.Currency("usd")
	require.NotNil(t, c)
	assert.Equal(t, "USD", c.Code)

	c = res.Currency("Zambian Kwacha")
	require.NotNil(t, c)
	assert.Equal(t, "ZMW", c.Code)

	// Unknown and blank both fall back to the default currency.
	assert.Equal(t, "ZMW", res.Currency("EUR").Code)
	assert.Equal(t, "ZMW", res.Currency("").Code)
}

func TestSynthFunderCode(t *testing.T) {
	none := func(string) bool { return false }

	assert.Equal(t, "WORLDV", SynthFunderCode("World Vision International", none))
	assert.Equal(t, "FDR", SynthFunderCode("---", none))

	taken := map[string]bool{"WORLDV": true, "WORLDV1": true}
	code := SynthFunderCode("World Vision", func(c string) bool { return taken[c] })
	assert.Equal(t, "WORLDV2", code)

	// Multibyte letters must not be split mid-character.
	code = SynthFunderCode("Médecins Sans Frontières", none)
	assert.Equal(t, "MÉDECI", code)
	assert.True(t, utf8.ValidString(code))

	code = SynthFunderCode("AÉÉÉ Fund", none)
	assert.Equal(t, "AÉÉÉFU", code)
	assert.True(t, utf8.ValidString(code))
}

func TestSynthClusterShortName(t *testing.T) {
	assert.Equal(t, "NUTRITION", SynthClusterShortName("Nutrition"))
	assert.Equal(t, "DISASTERRISKREDUCTIO", SynthClusterShortName("Disaster Risk Reduction and Response"))

	short := SynthClusterShortName("Éducation et Protection de l'Enfance")
	assert.Equal(t, "ÉDUCATIONETPROTECTIO", short)
	assert.True(t, utf8.ValidString(short))
}

func TestResolver_AddMidCommit(t *testing.T) {
	st := newTestStore(t)
	res := newTestResolver(t, st)

	res.AddFunder(model.Funder{ID: 99, Code: "NEWFND", Name: "New Funder", Active: true})
	require.NotNil(t, res.Funder("new funder"))
	assert.True(t, res.FunderCodeTaken("newfnd"))

	res.AddCluster(model.Cluster{ID: 99, ShortName: "NUT", FullName: "Nutrition"})
	require.NotNil(t, res.Cluster("NUT"))
	require.NotNil(t, res.Cluster("nutrition"))
}
