package transgeo

import (
	"fmt"
	"sort"

	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

type builder struct {
	parallelism  int
	spatialIndex bool
	logger       *zap.Logger
}

type BuildOption func(b *builder) error

// BuildParallelism sets the number of workers classifying ground images.
// Classification only reads the inputs; edges are always inserted
// sequentially in key order.
func BuildParallelism(n int) BuildOption {
	return func(b *builder) error {
		if n < 1 {
			return ErrInvalidOption{"build parallelism must be >=1"}
		}
		b.parallelism = n
		return nil
	}
}

// SpatialIndex prefilters candidate tiles of each ground image with an
// R-tree instead of testing every tile.
func SpatialIndex() BuildOption {
	return func(b *builder) error {
		b.spatialIndex = true
		return nil
	}
}

func BuildLogger(l *zap.Logger) BuildOption {
	return func(b *builder) error {
		if l == nil {
			return ErrInvalidOption{"nil logger"}
		}
		b.logger = l
		return nil
	}
}

type match struct {
	tile int
	rel  Relation
}

// Build creates the manifest linking every ground image to the aerial tiles
// whose positive or semi-positive boundary contains its location. Any
// correspondence lists already present on the inputs are ignored.
//
// Ground lists are ordered by aerial key and aerial lists by ground key, so
// the same inputs always give the same manifest.
func Build(tiles map[string]AerialTile, images map[string]GroundImage, options ...BuildOption) (*Manifest, error) {
	b := builder{parallelism: 1, logger: zap.NewNop()}
	for _, o := range options {
		if err := o(&b); err != nil {
			return nil, err
		}
	}

	m := NewManifest()
	aerialKeys := sortedKeys(tiles)
	groundKeys := sortedKeys(images)
	tileList := make([]AerialTile, len(aerialKeys))
	for i, k := range aerialKeys {
		tileList[i] = tiles[k]
		if err := m.AddAerial(k, tiles[k]); err != nil {
			return nil, err
		}
	}
	for _, k := range groundKeys {
		if err := m.AddGround(k, images[k]); err != nil {
			return nil, err
		}
	}

	var index *tileIndex
	if b.spatialIndex {
		var err error
		if index, err = newTileIndex(tileList); err != nil {
			return nil, fmt.Errorf("spatial index: %w", err)
		}
	}

	classify := func(loc LonLat) []match {
		var matches []match
		test := func(i int) {
			if rel := tileList[i].Classify(loc); rel != RelUnrelated {
				matches = append(matches, match{tile: i, rel: rel})
			}
		}
		if index != nil {
			for _, i := range index.candidates(loc) {
				test(i)
			}
		} else {
			for i := range tileList {
				test(i)
			}
		}
		return matches
	}

	results := make([][]match, len(groundKeys))
	if b.parallelism > 1 {
		pool := gobs.NewPool(b.parallelism)
		batch := pool.Batch()
		for gi, gk := range groundKeys {
			gi, loc := gi, images[gk].Location
			batch.Submit(func() error {
				results[gi] = classify(loc)
				return nil
			})
		}
		if err := batch.Wait(); err != nil {
			return nil, err
		}
	} else {
		for gi, gk := range groundKeys {
			results[gi] = classify(images[gk].Location)
		}
	}

	npos, nsemi := 0, 0
	for gi, gk := range groundKeys {
		sort.Slice(results[gi], func(i, j int) bool { return results[gi][i].tile < results[gi][j].tile })
		for _, mt := range results[gi] {
			if err := m.Link(gk, aerialKeys[mt.tile], mt.rel); err != nil {
				return nil, err
			}
			if mt.rel == RelPositive {
				npos++
			} else {
				nsemi++
			}
		}
	}

	b.logger.Info("built manifest",
		zap.Int("aerial", m.NumAerial()),
		zap.Int("ground", m.NumGround()),
		zap.Int("positive", npos),
		zap.Int("semi-positive", nsemi),
		zap.Bool("spatial-index", b.spatialIndex))
	return m, nil
}
