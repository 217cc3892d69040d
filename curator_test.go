package transgeo

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var unitBox = Box{MinLon: 0, MaxLon: 1, MinLat: 0, MaxLat: 1}

// keepConfig disables every pass that is not under test.
func keepConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxPositivePanoramas = 0
	cfg.SemiPositivePolicy = PolicyKeep
	return cfg
}

func newTestManifest(t *testing.T, aerial []string, ground map[string]Size) *Manifest {
	t.Helper()
	m := NewManifest()
	for i, k := range aerial {
		require.NoError(t, m.AddAerial(k, testTile(i, unitBox, unitBox)))
	}
	for k, sz := range ground {
		require.NoError(t, m.AddGround(k, GroundImage{Location: LonLat{Lon: 0.5, Lat: 0.5}, Size: sz}))
	}
	return m
}

var pano = Size{W: 4096, H: 1024}

func TestCurateCapping(t *testing.T) {
	ground := map[string]Size{}
	for i := 1; i <= 5; i++ {
		ground[fmt.Sprintf("g/G%d.png", i)] = pano
	}
	m := newTestManifest(t, []string{"T.png", "S.png"}, ground)
	for gk := range ground {
		require.NoError(t, m.Link(gk, "T.png", RelPositive))
		require.NoError(t, m.Link(gk, "S.png", RelSemiPositive))
	}
	cfg := keepConfig()
	cfg.MaxPositivePanoramas = 2

	report, err := Curate(m, cfg, rand.New(rand.NewSource(7)), CurateLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, m.Check())
	assert.Equal(t, 3, report.Removed())
	assert.Equal(t, PassResult{Pass: PassCapPositives, RemovedGround: 3}, report.Passes[3])

	tile, _ := m.Aerial("T.png")
	other, _ := m.Aerial("S.png")
	assert.Len(t, tile.Positive, 2)
	// excluded grounds are gone from the whole manifest
	assert.ElementsMatch(t, tile.Positive, other.SemiPositive)
	assert.Equal(t, 2, m.NumGround())
}

func TestCurateDeduplicateAndSanitize(t *testing.T) {
	m := newTestManifest(t, []string{"a/x.png", "b/x.png", "c/y z.png"}, map[string]Size{
		"g/x.png":           pano,
		"g/ok.png":          pano,
		"h/ok.png":          pano,
		"g/tab\tname.png":   pano,
		"g/line\nbreak.png": pano,
	})
	require.NoError(t, m.Link("g/ok.png", "a/x.png", RelPositive))
	require.NoError(t, m.Link("h/ok.png", "b/x.png", RelPositive))

	report, err := Curate(m, keepConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"a/x.png"}, m.AerialKeys())
	assert.Equal(t, []string{"g/ok.png"}, m.GroundKeys())
	assert.Equal(t, PassResult{Pass: PassDeduplicate, RemovedAerial: 1, RemovedGround: 2}, report.Passes[0])
	assert.Equal(t, PassResult{Pass: PassSanitizeNames, RemovedAerial: 1, RemovedGround: 2}, report.Passes[1])
}

func TestCuratePanoramas(t *testing.T) {
	m := newTestManifest(t, []string{"T.png"}, map[string]Size{
		"g/wide.png":   pano,
		"g/exact.png":  {W: 2000, H: 1000},
		"g/square.png": {W: 1000, H: 1000},
		"g/empty.png":  {W: 1000, H: 0},
	})
	require.NoError(t, m.Link("g/square.png", "T.png", RelPositive))
	_, err := Curate(m, keepConfig(), rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"g/exact.png", "g/wide.png"}, m.GroundKeys())
	tile, _ := m.Aerial("T.png")
	assert.Empty(t, tile.Positive)
}

func TestCurateDistractions(t *testing.T) {
	aerial := []string{"D1.png", "D2.png", "D3.png", "D4.png", "D5.png", "T.png"}
	m := newTestManifest(t, aerial, map[string]Size{"g/G.png": pano})
	require.NoError(t, m.Link("g/G.png", "T.png", RelSemiPositive))
	cfg := keepConfig()
	cfg.DistractionKeepProportion = 0.5

	report, err := Curate(m, cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	// int(0.5 * 5) distractions go, T is not a distraction
	assert.Equal(t, 2, report.Passes[4].RemovedAerial)
	assert.Equal(t, 4, m.NumAerial())
	_, ok := m.Aerial("T.png")
	assert.True(t, ok)
}

func TestCurateSemiPositivePolicy(t *testing.T) {
	build := func() *Manifest {
		m := newTestManifest(t, []string{"A.png", "B.png", "C.png"}, map[string]Size{"g/three.png": pano, "g/two.png": pano})
		for _, ak := range []string{"A.png", "B.png", "C.png"} {
			require.NoError(t, m.Link("g/three.png", ak, RelSemiPositive))
		}
		require.NoError(t, m.Link("g/two.png", "A.png", RelSemiPositive))
		require.NoError(t, m.Link("g/two.png", "B.png", RelSemiPositive))
		return m
	}

	m := build()
	cfg := keepConfig()
	cfg.SemiPositivePolicy = PolicyPrune
	report, err := Curate(m, cfg, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"g/three.png"}, m.GroundKeys())
	require.Len(t, report.Passes, 6)
	assert.Equal(t, PassMinSemiPositives, report.Passes[5].Pass)

	for _, p := range []SemiPositivePolicy{PolicyFilter, PolicyKeep} {
		m = build()
		cfg.SemiPositivePolicy = p
		report, err = Curate(m, cfg, rand.New(rand.NewSource(1)))
		require.NoError(t, err)
		assert.Equal(t, 2, m.NumGround(), p)
		assert.Len(t, report.Passes, 5)
	}
}

func TestCurateDeterministic(t *testing.T) {
	tiles, images := randomInputs(rand.New(rand.NewSource(11)), 80, 600)
	cfg := DefaultConfig()
	cfg.MaxPositivePanoramas = 1
	cfg.DistractionKeepProportion = 0.3
	cfg.SemiPositivePolicy = PolicyKeep

	run := func() (*Manifest, CurationReport) {
		m, err := Build(tiles, images)
		require.NoError(t, err)
		r, err := Curate(m, cfg, rand.New(rand.NewSource(5)))
		require.NoError(t, err)
		require.NoError(t, m.Check())
		return m, r
	}
	m1, r1 := run()
	m2, r2 := run()
	assert.Equal(t, r1, r2)
	assert.Equal(t, m1, m2)
	for _, ak := range m1.AerialKeys() {
		a, _ := m1.Aerial(ak)
		assert.LessOrEqual(t, len(a.Positive), 1)
	}
}

func TestCurateRejects(t *testing.T) {
	m := NewManifest()
	cfg := DefaultConfig()
	cfg.TrainProportion = 2
	_, err := Curate(m, cfg, rand.New(rand.NewSource(1)))
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)

	_, err = Curate(m, DefaultConfig(), nil)
	assert.Error(t, err)

	require.NoError(t, m.AddAerial("T.png", testTile(1, unitBox, unitBox)))
	m.aerial["T.png"].Positive = []string{"g/missing.png"}
	_, err = Curate(m, DefaultConfig(), rand.New(rand.NewSource(1)))
	var iv *InvariantViolation
	assert.ErrorAs(t, err, &iv)
}
