package ingest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/relieftrack/activity-import/internal/model"
	"github.com/relieftrack/activity-import/internal/store"
)

const (
	// fuzzyPrefixLen is how much of an unknown token is used for
	// suggestion lookups.
	fuzzyPrefixLen = 4
	// maxSuggestions caps the fuzzy suggestion list per unknown token.
	maxSuggestions = 5
)

// Resolver maps free-text tokens to master entities. It is built from a
// snapshot of master data taken at the start of a pipeline run, so a
// summary computed through it reflects the store state at that moment.
type Resolver struct {
	statuses      map[string]model.Status
	defaultStatus *model.Status

	funders      []model.Funder
	fundersByKey map[string]model.Funder

	clusters      []model.Cluster
	clustersByKey map[string]model.Cluster

	currencies      []model.Currency
	defaultCurrency *model.Currency
}

// NewResolver snapshots master data from the store. defaultStatusName
// is the configured fallback used when no status carries the default
// flag.
func NewResolver(ctx context.Context, st store.Store, defaultStatusName string) (*Resolver, error) {
	statuses, err := st.ListStatuses(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load statuses")
	}
	funders, err := st.ListFunders(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load funders")
	}
	clusters, err := st.ListClusters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load clusters")
	}
	currencies, err := st.ListCurrencies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load currencies")
	}

	r := &Resolver{
		statuses:      make(map[string]model.Status, len(statuses)),
		funders:       funders,
		fundersByKey:  make(map[string]model.Funder, len(funders)),
		clusters:      clusters,
		clustersByKey: make(map[string]model.Cluster, 2*len(clusters)),
		currencies:    currencies,
	}

	for _, s := range statuses {
		r.statuses[NormalizeKey(s.Name)] = s
		if s.IsDefault && r.defaultStatus == nil {
			s := s
			r.defaultStatus = &s
		}
	}
	// Fall back to the configured default status name when no master
	// status carries the flag.
	if r.defaultStatus == nil && defaultStatusName != "" {
		if s, ok := r.statuses[NormalizeKey(defaultStatusName)]; ok {
			r.defaultStatus = &s
		}
	}

	for _, f := range funders {
		r.fundersByKey[NormalizeKey(f.Name)] = f
	}
	for _, c := range clusters {
		r.clustersByKey[NormalizeKey(c.ShortName)] = c
		r.clustersByKey[NormalizeKey(c.FullName)] = c
	}
	for _, c := range currencies {
		if c.IsDefault && r.defaultCurrency == nil {
			c := c
			r.defaultCurrency = &c
		}
	}
	if r.defaultCurrency == nil && len(currencies) > 0 {
		r.defaultCurrency = &r.currencies[0]
	}

	return r, nil
}

// Status resolves an implementation-status token by exact
// case-insensitive match against the closed master set.
func (r *Resolver) Status(token string) (*model.Status, bool) {
	s, ok := r.statuses[NormalizeKey(token)]
	if !ok {
		return nil, false
	}
	return &s, true
}

// DefaultStatus returns the status substituted for blank cells, or nil
// when none is configured. A nil default makes blank statuses
// hard-blocking.
func (r *Resolver) DefaultStatus() *model.Status {
	return r.defaultStatus
}

// availableStatuses lists the master status names, sorted.
func (r *Resolver) availableStatuses() []string {
	out := make([]string, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

// Funder resolves by exact case-insensitive name match.
func (r *Resolver) Funder(token string) *model.Funder {
	if f, ok := r.fundersByKey[NormalizeKey(token)]; ok {
		return &f
	}
	return nil
}

// Cluster resolves by exact case-insensitive short-name or full-name
// match.
func (r *Resolver) Cluster(token string) *model.Cluster {
	if c, ok := r.clustersByKey[NormalizeKey(token)]; ok {
		return &c
	}
	return nil
}

// FuzzyFunder returns the first funder whose name contains the token's
// leading characters, or nil.
func (r *Resolver) FuzzyFunder(token string) *model.Funder {
	needle := fuzzyNeedle(token)
	if needle == "" {
		return nil
	}
	for i := range r.funders {
		if strings.Contains(strings.ToLower(r.funders[i].Name), needle) {
			return &r.funders[i]
		}
	}
	return nil
}

// FuzzyCluster returns the first cluster whose short name contains the
// token's leading characters, or nil.
func (r *Resolver) FuzzyCluster(token string) *model.Cluster {
	needle := fuzzyNeedle(token)
	if needle == "" {
		return nil
	}
	for i := range r.clusters {
		if strings.Contains(strings.ToLower(r.clusters[i].ShortName), needle) {
			return &r.clusters[i]
		}
	}
	return nil
}

// SuggestFunders lists up to maxSuggestions funder names resembling the
// token.
func (r *Resolver) SuggestFunders(token string) []string {
	needle := fuzzyNeedle(token)
	if needle == "" {
		return nil
	}
	var out []string
	for _, f := range r.funders {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			out = append(out, f.Name)
			if len(out) == maxSuggestions {
				break
			}
		}
	}
	return out
}

// SuggestClusters lists up to maxSuggestions cluster short names
// resembling the token.
func (r *Resolver) SuggestClusters(token string) []string {
	needle := fuzzyNeedle(token)
	if needle == "" {
		return nil
	}
	var out []string
	for _, c := range r.clusters {
		if strings.Contains(strings.ToLower(c.ShortName), needle) {
			out = append(out, c.ShortName)
			if len(out) == maxSuggestions {
				break
			}
		}
	}
	return out
}

// Currency resolves by code or name, falling back to the default
// currency. Currency is never blocking.
func (r *Resolver) Currency(token string) *model.Currency {
	if token != "" {
		key := NormalizeKey(token)
		for i := range r.currencies {
			if NormalizeKey(r.currencies[i].Code) == key || NormalizeKey(r.currencies[i].Name) == key {
				return &r.currencies[i]
			}
		}
	}
	return r.defaultCurrency
}

// AddFunder registers a funder created mid-commit so later rows resolve
// it without another store round-trip.
func (r *Resolver) AddFunder(f model.Funder) {
	r.funders = append(r.funders, f)
	r.fundersByKey[NormalizeKey(f.Name)] = f
}

// AddCluster registers a cluster created mid-commit.
func (r *Resolver) AddCluster(c model.Cluster) {
	r.clusters = append(r.clusters, c)
	r.clustersByKey[NormalizeKey(c.ShortName)] = c
	r.clustersByKey[NormalizeKey(c.FullName)] = c
}

// FunderCodeTaken reports whether any known funder already uses code.
func (r *Resolver) FunderCodeTaken(code string) bool {
	for _, f := range r.funders {
		if strings.EqualFold(f.Code, code) {
			return true
		}
	}
	return false
}

func fuzzyNeedle(token string) string {
	return truncRunes(strings.ToLower(NormalizeText(token)), fuzzyPrefixLen)
}

// SynthFunderCode derives a funder code from a name: the first 6
// alphanumeric characters uppercased, with a numeric suffix appended on
// collision.
func SynthFunderCode(name string, taken func(string) bool) string {
	base := truncRunes(alnum(strings.ToUpper(name)), 6)
	if base == "" {
		base = "FDR"
	}
	code := base
	for i := 1; taken(code); i++ {
		code = base + strconv.Itoa(i)
	}
	return code
}

// SynthClusterShortName derives a cluster short name: the alphanumeric
// characters of the name, truncated to 20.
func SynthClusterShortName(name string) string {
	short := truncRunes(alnum(strings.ToUpper(name)), 20)
	if short == "" {
		short = truncRunes(name, 20)
	}
	return short
}

// truncRunes cuts s to at most n runes. Byte slicing would split
// multibyte characters and emit invalid UTF-8.
func truncRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
