package manifest

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataset = `{
	"castles": [
		["/data/lego/castle_1/model.glb", "Tall castle"],
		["/data/lego/castle_2/model.glb", "Small castle", "extra"]
	],
	"boats": [
		["/data/lego/boat/model.obj"],
		42,
		[]
	],
	"broken": "not a list"
}`

func TestParseIsLenient(t *testing.T) {
	m, err := Parse(strings.NewReader(dataset))
	require.NoError(t, err)

	assert.Len(t, m["castles"], 2)
	assert.Equal(t, Item{Path: "/data/lego/castle_2/model.glb", Description: "Small castle"}, m["castles"][1])

	require.Len(t, m["boats"], 1)
	assert.Equal(t, "/data/lego/boat/model.obj", m["boats"][0].Path)
	assert.Empty(t, m["boats"][0].Description)

	_, ok := m["broken"]
	assert.False(t, ok)
}

func TestParseKeepsEntriesWithOddDescriptions(t *testing.T) {
	m, err := Parse(strings.NewReader(`{"misc": [
		["/a.glb", null],
		["/b.glb", 3],
		["/c.glb", true, "x"],
		[7, "no path"],
		["", "empty path"]
	]}`))
	require.NoError(t, err)

	assert.Equal(t, []Item{
		{Path: "/a.glb"},
		{Path: "/b.glb", Description: "3"},
		{Path: "/c.glb", Description: "true"},
	}, m["misc"])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader(`{}`))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Parse(strings.NewReader(`[1, 2]`))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`{"a": [`))
	assert.Error(t, err)
}

func TestItemJSON(t *testing.T) {
	data, err := json.Marshal(Manifest{"c": {{Path: "/a.glb", Description: "A"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c": [["/a.glb", "A"]]}`, string(data))
}

func TestParseList(t *testing.T) {
	m, err := ParseList(strings.NewReader("# models\n/data/lego/a.glb\n\n  /data/lego/b.obj  \n"), "assets")
	require.NoError(t, err)
	assert.Equal(t, Manifest{"assets": {{Path: "/data/lego/a.glb"}, {Path: "/data/lego/b.obj"}}}, m)

	_, err = ParseList(strings.NewReader("\n# nothing\n"), "assets")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestFlattenOrdersCategories(t *testing.T) {
	m, err := Parse(strings.NewReader(dataset))
	require.NoError(t, err)

	assets := m.Flatten()
	require.Len(t, assets, 3)
	assert.Equal(t, "boats", assets[0].Category)
	assert.Equal(t, "castles", assets[1].Category)
	assert.Equal(t, "Tall castle", assets[1].Description)

	assert.Equal(t, map[string]int{"boats": 1, "castles": 2}, Categories(assets))
	assert.Len(t, Filter(assets, "castles"), 2)
	assert.Len(t, Filter(assets, ""), 3)
	assert.Empty(t, Filter(assets, "planes"))
}

func TestNewListingNeverNil(t *testing.T) {
	l := NewListing(nil)
	assert.NotNil(t, l.Assets)
	assert.Zero(t, l.Total)
}

func testAssets(n int) []Asset {
	out := make([]Asset, n)
	for i := range out {
		out[i] = Asset{Category: "c", Path: "/p/" + string(rune('a'+i%26)) + strings.Repeat("x", i/26)}
	}
	return out
}

func TestSampleReturnsDistinctSubset(t *testing.T) {
	assets := testAssets(50)
	got := Sample(assets, 20, NewRand(1))
	require.Len(t, got, 20)

	seen := map[string]bool{}
	for _, a := range got {
		assert.False(t, seen[a.Path], "duplicate %s", a.Path)
		seen[a.Path] = true
	}
	assert.Equal(t, testAssets(50), assets, "input is not modified")
}

func TestSampleSizes(t *testing.T) {
	assets := testAssets(5)
	assert.Len(t, Sample(assets, 20, NewRand(1)), 5)
	assert.Empty(t, Sample(assets, 0, NewRand(1)))
	assert.Empty(t, Sample(nil, 3, NewRand(1)))
	assert.NotNil(t, Sample(nil, 3, NewRand(1)))
}

func TestSampleIsReproducible(t *testing.T) {
	assets := testAssets(40)
	assert.Equal(t, Sample(assets, 10, NewRand(7)), Sample(assets, 10, NewRand(7)))
}

func TestBuild(t *testing.T) {
	matches := []string{
		"/srv/lego/castle/model.glb",
		"/srv/lego/boat/model.glb",
	}
	m := Build(matches, "/srv/lego/*/model.glb", "assets", "/srv/lego", "/data/lego")

	assert.Equal(t, Manifest{"assets": {
		{Path: "/data/lego/boat/model.glb", Description: "boat"},
		{Path: "/data/lego/castle/model.glb", Description: "castle"},
	}}, m)
}

func TestBuildWithoutWildcardUsesBaseName(t *testing.T) {
	m := Build([]string{"/srv/a.obj"}, "/srv/a.obj", "assets", "/srv", "/files")
	assert.Equal(t, "a.obj", m["assets"][0].Description)
	assert.Equal(t, "/files/a.obj", m["assets"][0].Path)
}

func TestRewritePrefix(t *testing.T) {
	assert.Equal(t, "/data/lego/a/b.glb", RewritePrefix("/srv/a/b.glb", "/srv", "/data/lego"))
	assert.Equal(t, "/data/lego/a/b.glb", RewritePrefix("/srv/a/b.glb", "/srv/", "/data/lego"))
	assert.Equal(t, "/srvx/a.glb", RewritePrefix("/srvx/a.glb", "/srv", "/data"))
	assert.Equal(t, "/x/a.glb", RewritePrefix("/x/a.glb", "", "/data"))
}
