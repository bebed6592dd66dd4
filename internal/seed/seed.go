// Package seed loads master data (statuses, currencies, funders,
// clusters) from YAML files or built-in defaults. Seeding is
// get-or-create, so it is safe to run repeatedly against a live
// database; only the default flag of statuses and currencies is
// refreshed when the seed disagrees with the store.
package seed

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/relieftrack/activity-import/internal/model"
	"github.com/relieftrack/activity-import/internal/store"
)

// File is the YAML seed document. All sections are optional.
type File struct {
	Statuses []struct {
		Name    string `yaml:"name"`
		Default bool   `yaml:"default"`
	} `yaml:"statuses"`
	Currencies []struct {
		Code    string `yaml:"code"`
		Name    string `yaml:"name"`
		Symbol  string `yaml:"symbol"`
		Default bool   `yaml:"default"`
	} `yaml:"currencies"`
	Funders []struct {
		Code string `yaml:"code"`
		Name string `yaml:"name"`
	} `yaml:"funders"`
	Clusters []struct {
		ShortName string `yaml:"short_name"`
		FullName  string `yaml:"full_name"`
	} `yaml:"clusters"`
}

// Defaults is the built-in seed applied when no file is given: the
// implementation-status lifecycle and the working currencies.
func Defaults() *File {
	var f File
	if err := yaml.Unmarshal([]byte(defaultsYAML), &f); err != nil {
		panic(err)
	}
	return &f
}

const defaultsYAML = `
statuses:
  - name: Planned
    default: true
  - name: In Progress
  - name: Partially Implemented
  - name: Fully Implemented
  - name: Cancelled
currencies:
  - code: ZMW
    name: Zambian Kwacha
    symbol: K
    default: true
  - code: USD
    name: US Dollar
    symbol: $
`

// Load reads a seed file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "seed: read file")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "seed: parse yaml")
	}
	return &f, nil
}

// Result counts what seeding created, refreshed, or left alone.
type Result struct {
	Created int
	Updated int
	Skipped int
}

// Apply inserts the seed entries that don't already exist. Matching is
// case-insensitive on the natural key of each entity. Existing statuses
// and currencies whose default flag disagrees with the seed have the
// flag updated.
func Apply(ctx context.Context, st store.Store, f *File) (*Result, error) {
	res := &Result{}

	statuses, err := st.ListStatuses(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "seed: list statuses")
	}
	haveStatus := make(map[string]model.Status, len(statuses))
	for _, s := range statuses {
		haveStatus[strings.ToLower(s.Name)] = s
	}
	for _, s := range f.Statuses {
		if existing, ok := haveStatus[strings.ToLower(s.Name)]; ok {
			if existing.IsDefault == s.Default {
				res.Skipped++
				continue
			}
			existing.IsDefault = s.Default
			if err := st.UpdateStatus(ctx, existing); err != nil {
				return nil, eris.Wrapf(err, "seed: update status %q", s.Name)
			}
			haveStatus[strings.ToLower(s.Name)] = existing
			res.Updated++
			continue
		}
		created, err := st.CreateStatus(ctx, model.Status{Name: s.Name, IsDefault: s.Default})
		if err != nil {
			return nil, eris.Wrapf(err, "seed: create status %q", s.Name)
		}
		haveStatus[strings.ToLower(s.Name)] = *created
		res.Created++
	}

	currencies, err := st.ListCurrencies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "seed: list currencies")
	}
	haveCurrency := make(map[string]model.Currency, len(currencies))
	for _, c := range currencies {
		haveCurrency[strings.ToLower(c.Code)] = c
	}
	for _, c := range f.Currencies {
		if existing, ok := haveCurrency[strings.ToLower(c.Code)]; ok {
			if existing.IsDefault == c.Default {
				res.Skipped++
				continue
			}
			existing.IsDefault = c.Default
			if err := st.UpdateCurrency(ctx, existing); err != nil {
				return nil, eris.Wrapf(err, "seed: update currency %q", c.Code)
			}
			haveCurrency[strings.ToLower(c.Code)] = existing
			res.Updated++
			continue
		}
		cur := model.Currency{Code: c.Code, Name: c.Name, Symbol: c.Symbol, IsDefault: c.Default}
		created, err := st.CreateCurrency(ctx, cur)
		if err != nil {
			return nil, eris.Wrapf(err, "seed: create currency %q", c.Code)
		}
		haveCurrency[strings.ToLower(c.Code)] = *created
		res.Created++
	}

	funders, err := st.ListFunders(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "seed: list funders")
	}
	haveFunder := keySet(len(funders), func(i int) string { return funders[i].Code })
	for _, fd := range f.Funders {
		if haveFunder[strings.ToLower(fd.Code)] {
			res.Skipped++
			continue
		}
		if _, err := st.CreateFunder(ctx, model.Funder{Code: fd.Code, Name: fd.Name, Active: true}); err != nil {
			return nil, eris.Wrapf(err, "seed: create funder %q", fd.Code)
		}
		haveFunder[strings.ToLower(fd.Code)] = true
		res.Created++
	}

	clusters, err := st.ListClusters(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "seed: list clusters")
	}
	haveCluster := keySet(len(clusters), func(i int) string { return clusters[i].ShortName })
	for _, cl := range f.Clusters {
		if haveCluster[strings.ToLower(cl.ShortName)] {
			res.Skipped++
			continue
		}
		c := model.Cluster{ShortName: cl.ShortName, FullName: cl.FullName}
		if _, err := st.CreateCluster(ctx, c); err != nil {
			return nil, eris.Wrapf(err, "seed: create cluster %q", cl.ShortName)
		}
		haveCluster[strings.ToLower(cl.ShortName)] = true
		res.Created++
	}

	zap.L().Info("seed applied",
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func keySet(n int, key func(int) string) map[string]bool {
	set := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		set[strings.ToLower(key(i))] = true
	}
	return set
}
