package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path"
	"sort"
	"strings"
)

// ErrEmpty is returned when a manifest holds no categories.
var ErrEmpty = errors.New("manifest is empty")

// Item is one asset reference inside a category. On the wire it is the
// two-element array [path, description].
type Item struct {
	Path        string
	Description string
}

// MarshalJSON encodes the item as [path, description].
func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{it.Path, it.Description})
}

// UnmarshalJSON accepts [path] or [path, description, ...]. Only the path has
// to be a string; a null description is empty and any other value is printed.
func (it *Item) UnmarshalJSON(data []byte) error {
	var parts []any
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("asset entry without a path")
	}
	p, ok := parts[0].(string)
	if !ok || p == "" {
		return errors.New("asset entry without a path")
	}
	it.Path = p
	it.Description = ""
	if len(parts) > 1 && parts[1] != nil {
		if d, ok := parts[1].(string); ok {
			it.Description = d
		} else {
			it.Description = fmt.Sprint(parts[1])
		}
	}
	return nil
}

// Manifest maps a category name to its assets (the dataset.json layout).
type Manifest map[string][]Item

// Asset is a flattened manifest entry.
type Asset struct {
	Category    string `json:"category"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Listing is the manifest as served to viewers.
type Listing struct {
	Assets     []Asset        `json:"assets"`
	Categories map[string]int `json:"categories"`
	Total      int            `json:"total"`
}

// NewListing builds a Listing over assets.
func NewListing(assets []Asset) Listing {
	if assets == nil {
		assets = []Asset{}
	}
	return Listing{
		Assets:     assets,
		Categories: Categories(assets),
		Total:      len(assets),
	}
}

// Parse decodes a dataset.json document. Categories whose value is not an
// array, and entries that are not arrays starting with a path, are skipped.
func Parse(r io.Reader) (Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	m := make(Manifest, len(raw))
	for category, value := range raw {
		var entries []json.RawMessage
		if err := json.Unmarshal(value, &entries); err != nil {
			continue
		}
		items := make([]Item, 0, len(entries))
		for _, e := range entries {
			var it Item
			if err := json.Unmarshal(e, &it); err != nil {
				continue
			}
			items = append(items, it)
		}
		m[category] = items
	}
	return m, nil
}

// ParseList decodes a file list with one asset path per line. Every asset is
// put in category.
func ParseList(r io.Reader, category string) (Manifest, error) {
	var items []Item
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, Item{Path: line})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read file list: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmpty
	}
	return Manifest{category: items}, nil
}

// Flatten lists every asset, categories in name order, items in file order.
func (m Manifest) Flatten() []Asset {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	var assets []Asset
	for _, name := range names {
		for _, it := range m[name] {
			assets = append(assets, Asset{
				Category:    name,
				Path:        it.Path,
				Description: it.Description,
			})
		}
	}
	return assets
}

// Categories counts assets per category.
func Categories(assets []Asset) map[string]int {
	counts := make(map[string]int)
	for _, a := range assets {
		counts[a.Category]++
	}
	return counts
}

// Filter keeps the assets in category. An empty category keeps everything.
func Filter(assets []Asset, category string) []Asset {
	if category == "" {
		return assets
	}
	var out []Asset
	for _, a := range assets {
		if a.Category == category {
			out = append(out, a)
		}
	}
	return out
}

// Sample picks min(n, len(assets)) distinct assets uniformly at random.
// The input slice is not modified.
func Sample(assets []Asset, n int, rng *rand.Rand) []Asset {
	if n <= 0 || len(assets) == 0 {
		return []Asset{}
	}
	if n > len(assets) {
		n = len(assets)
	}

	pool := make([]Asset, len(assets))
	copy(pool, assets)
	for i := 0; i < n; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// NewRand returns a generator seeded with seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Build turns remote glob matches into a single-category manifest. Each
// description is the path segment matched by the first wildcard segment of
// pattern; localRoot is replaced by urlRoot in every path.
func Build(matches []string, pattern, category, localRoot, urlRoot string) Manifest {
	wild := wildcardSegment(pattern)

	sorted := append([]string(nil), matches...)
	sort.Strings(sorted)

	items := make([]Item, 0, len(sorted))
	for _, p := range sorted {
		desc := path.Base(p)
		if segs := strings.Split(p, "/"); wild >= 0 && wild < len(segs) {
			desc = segs[wild]
		}
		items = append(items, Item{
			Path:        RewritePrefix(p, localRoot, urlRoot),
			Description: desc,
		})
	}
	return Manifest{category: items}
}

// RewritePrefix replaces the leading from directory of p with to. Paths
// outside from are returned unchanged.
func RewritePrefix(p, from, to string) string {
	if from == "" {
		return p
	}
	from = strings.TrimSuffix(from, "/")
	if p != from && !strings.HasPrefix(p, from+"/") {
		return p
	}
	return path.Join("/", to, strings.TrimPrefix(p, from))
}

func wildcardSegment(pattern string) int {
	for i, seg := range strings.Split(pattern, "/") {
		if strings.ContainsAny(seg, "*?[") {
			return i
		}
	}
	return -1
}
