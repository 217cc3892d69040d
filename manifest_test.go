package transgeo

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTile(id int, pos, semi Box) AerialTile {
	return AerialTile{
		ID:                   id,
		Size:                 Size{W: 256, H: 256},
		Center:               pos.Center(),
		PositiveBoundary:     pos,
		SemiPositiveBoundary: semi,
	}
}

func testGround(lon, lat float64) GroundImage {
	return GroundImage{Location: LonLat{Lon: lon, Lat: lat}, Size: Size{W: 4096, H: 1024}}
}

func TestManifestLinkRemove(t *testing.T) {
	m := NewManifest()
	box := Box{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1}
	require.NoError(t, m.AddAerial("T1.png", testTile(1, box, box)))
	require.NoError(t, m.AddAerial("T2.png", testTile(2, box, box)))
	require.NoError(t, m.AddGround("G1.png", testGround(0.5, 0.5)))
	require.NoError(t, m.AddGround("G2.png", testGround(0.5, 0.5)))
	assert.Error(t, m.AddAerial("T1.png", testTile(3, box, box)))
	assert.Error(t, m.AddGround("G1.png", testGround(0, 0)))

	require.NoError(t, m.Link("G1.png", "T1.png", RelPositive))
	require.NoError(t, m.Link("G1.png", "T2.png", RelPositive))
	require.NoError(t, m.Link("G2.png", "T1.png", RelSemiPositive))
	assert.Error(t, m.Link("G1.png", "T1.png", RelSemiPositive))
	assert.Error(t, m.Link("G3.png", "T1.png", RelPositive))
	assert.Error(t, m.Link("G2.png", "T3.png", RelPositive))
	assert.Error(t, m.Link("G2.png", "T2.png", RelUnrelated))
	require.NoError(t, m.Check())

	// pruning G1 scrubs it from both tiles it was positive for
	assert.True(t, m.RemoveGround("G1.png"))
	assert.False(t, m.RemoveGround("G1.png"))
	require.NoError(t, m.Check())
	t1, _ := m.Aerial("T1.png")
	t2, _ := m.Aerial("T2.png")
	assert.Empty(t, t1.Positive)
	assert.Empty(t, t2.Positive)
	assert.Equal(t, []string{"G2.png"}, t1.SemiPositive)

	assert.True(t, m.Remove("T1.png"))
	require.NoError(t, m.Check())
	g2, _ := m.Ground("G2.png")
	assert.Empty(t, g2.SemiPositive)
	assert.False(t, m.Remove("nope"))
	assert.Equal(t, []string{"T2.png"}, m.AerialKeys())
	assert.Equal(t, []string{"G2.png"}, m.GroundKeys())
}

func TestManifestAccessorsCopy(t *testing.T) {
	m := NewManifest()
	box := Box{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1}
	require.NoError(t, m.AddAerial("T1.png", testTile(1, box, box)))
	require.NoError(t, m.AddGround("G1.png", testGround(0.5, 0.5)))
	require.NoError(t, m.Link("G1.png", "T1.png", RelPositive))

	a, ok := m.Aerial("T1.png")
	require.True(t, ok)
	a.Positive[0] = "changed"
	g, ok := m.Ground("G1.png")
	require.True(t, ok)
	g.Positive = nil
	assert.NoError(t, m.Check())

	_, ok = m.Aerial("missing")
	assert.False(t, ok)
}

func TestManifestCheck(t *testing.T) {
	type tc struct {
		name   string
		mutate func(m *Manifest)
	}
	cases := []tc{
		{"missing reverse edge", func(m *Manifest) {
			m.aerial["T1.png"].Positive = append(m.aerial["T1.png"].Positive, "G2.png")
		}},
		{"missing node", func(m *Manifest) {
			m.ground["G1.png"].SemiPositive = append(m.ground["G1.png"].SemiPositive, "T9.png")
		}},
		{"both relations", func(m *Manifest) {
			m.aerial["T1.png"].SemiPositive = append(m.aerial["T1.png"].SemiPositive, "G1.png")
			m.ground["G1.png"].SemiPositive = append(m.ground["G1.png"].SemiPositive, "T1.png")
		}},
		{"duplicate entry", func(m *Manifest) {
			m.aerial["T1.png"].Positive = append(m.aerial["T1.png"].Positive, "G1.png")
		}},
		{"relation mismatch", func(m *Manifest) {
			m.ground["G1.png"].Positive = nil
			m.ground["G1.png"].SemiPositive = []string{"T1.png"}
		}},
	}
	for _, c := range cases {
		m := NewManifest()
		box := Box{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1}
		require.NoError(t, m.AddAerial("T1.png", testTile(1, box, box)))
		require.NoError(t, m.AddGround("G1.png", testGround(0.5, 0.5)))
		require.NoError(t, m.AddGround("G2.png", testGround(0.5, 0.5)))
		require.NoError(t, m.Link("G1.png", "T1.png", RelPositive))
		require.NoError(t, m.Check(), c.name)
		c.mutate(m)
		var iv *InvariantViolation
		assert.ErrorAs(t, m.Check(), &iv, c.name)
	}
}

const manifestFixture = `{
    "aerial": {
        "tiles/1_10.5_50.5_10.0_51.0_11.0_50.0_9.5_51.5_11.5_49.5.png": {
            "center": {"lat": 50.5, "lon": 10.5},
            "id": 1,
            "positive": ["4096x1024/LAT_50.7LONG_10.2_NLF_0001_a.png"],
            "positive-boundary": [{"lat": 51, "lon": 10}, {"lat": 50, "lon": 11}],
            "semi-positive": ["4096x1024/LAT_49.6LONG_9.6_NLF_0002_b.png"],
            "semi-positive-boundary": [{"lat": 51.5, "lon": 9.5}, {"lat": 49.5, "lon": 11.5}],
            "size": {"h": 256, "w": 256}
        }
    },
    "ground": {
        "4096x1024/LAT_49.6LONG_9.6_NLF_0002_b.png": {
            "location": {"lat": 49.6, "lon": 9.6},
            "positive": [],
            "semi-positive": ["tiles/1_10.5_50.5_10.0_51.0_11.0_50.0_9.5_51.5_11.5_49.5.png"],
            "size": {"h": 1024, "w": 4096}
        },
        "4096x1024/LAT_50.7LONG_10.2_NLF_0001_a.png": {
            "location": {"lat": 50.7, "lon": 10.2},
            "positive": ["tiles/1_10.5_50.5_10.0_51.0_11.0_50.0_9.5_51.5_11.5_49.5.png"],
            "semi-positive": [],
            "size": {"h": 1024, "w": 4096}
        }
    }
}
`

func TestManifestJSON(t *testing.T) {
	m, err := ReadManifest(strings.NewReader(manifestFixture))
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumAerial())
	assert.Equal(t, 2, m.NumGround())

	tile, ok := m.Aerial("tiles/1_10.5_50.5_10.0_51.0_11.0_50.0_9.5_51.5_11.5_49.5.png")
	require.True(t, ok)
	assert.Equal(t, 1, tile.ID)
	assert.Equal(t, Box{MinLon: 10, MaxLon: 11, MinLat: 50, MaxLat: 51}, tile.PositiveBoundary)
	assert.Equal(t, Box{MinLon: 9.5, MaxLon: 11.5, MinLat: 49.5, MaxLat: 51.5}, tile.SemiPositiveBoundary)

	var buf bytes.Buffer
	require.NoError(t, m.WriteJSON(&buf))
	out := buf.String()
	first := strings.Index(out, `"4096x1024/LAT_49.6LONG_9.6_NLF_0002_b.png": {`)
	second := strings.Index(out, `"4096x1024/LAT_50.7LONG_10.2_NLF_0001_a.png": {`)
	require.True(t, first > 0 && second > 0)
	assert.Less(t, first, second)
	assert.Contains(t, out, "\n    \"aerial\": {")

	again, err := ReadManifest(&buf)
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestManifestJSONErrors(t *testing.T) {
	cases := []string{
		`{"aerial": {}}`,
		`{"aerial": {}, "ground": {}, "extra": 1}`,
		`{"aerial": {}, "ground": {"g.png": {"size": {"w": 1, "h": 1}, "positive": [], "semi-positive": []}}}`,
		`{"aerial": {}, "ground": {"g.png": {"location": {"lon": 1}, "size": {"w": 1, "h": 1}, "positive": [], "semi-positive": []}}}`,
		`{"aerial": {}, "ground": {"g.png": {"location": {"lon": 1, "lat": 2}, "size": {"w": -1, "h": 1}, "positive": [], "semi-positive": []}}}`,
		`{"aerial": {}, "ground": {"g.png": {"location": {"lon": 1, "lat": 2}, "size": {"w": 1, "h": 1}, "positive": []}}}`,
		`{"aerial": {}, "ground": {"g.png": {"location": {"lon": 1, "lat": 2}, "size": {"w": 1, "h": 1}, "positive": ["t.png"], "semi-positive": []}}}`,
		`{"aerial": {"t.png": {"id": 1, "size": {"w": 1, "h": 1}, "center": {"lon": 0, "lat": 0},
			"positive-boundary": [{"lon": 0, "lat": 1}], "semi-positive-boundary": [{"lon": 0, "lat": 1}, {"lon": 1, "lat": 0}],
			"positive": [], "semi-positive": []}}, "ground": {}}`,
		`{"aerial": {"t.png": {"id": "1"}}, "ground": {}}`,
	}
	for _, c := range cases {
		_, err := ReadManifest(strings.NewReader(c))
		assert.Error(t, err, c)
	}
}
