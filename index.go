package transgeo

import (
	"sort"

	"github.com/dhconnelly/rtreego"
)

// pointTolerance pads query points so that locations lying exactly on a
// tile edge are still returned as candidates. Candidates are always
// confirmed with the exact inclusive test.
const pointTolerance = 1e-9

type tileEntry struct {
	idx  int
	rect rtreego.Rect
}

func (e *tileEntry) Bounds() rtreego.Rect {
	return e.rect
}

// tileIndex is an R-tree over the outer boundaries of aerial tiles.
type tileIndex struct {
	tree *rtreego.Rtree
}

// newTileIndex indexes tiles by the union of their positive and
// semi-positive boundaries. The index of each tile in tiles is its id in
// the tree.
func newTileIndex(tiles []AerialTile) (*tileIndex, error) {
	entries := make([]rtreego.Spatial, 0, len(tiles))
	for i, t := range tiles {
		outer := t.SemiPositiveBoundary
		p := t.PositiveBoundary
		outer = Box{
			MinLon: min(outer.MinLon, p.MinLon), MaxLon: max(outer.MaxLon, p.MaxLon),
			MinLat: min(outer.MinLat, p.MinLat), MaxLat: max(outer.MaxLat, p.MaxLat),
		}
		r, err := rtreego.NewRectFromPoints(
			rtreego.Point{outer.MinLon, outer.MinLat},
			rtreego.Point{outer.MaxLon, outer.MaxLat})
		if err != nil {
			return nil, err
		}
		entries = append(entries, &tileEntry{idx: i, rect: r})
	}
	return &tileIndex{tree: rtreego.NewTree(2, 25, 50, entries...)}, nil
}

// candidates returns the sorted indexes of the tiles whose outer boundary
// may contain p.
func (ti *tileIndex) candidates(p LonLat) []int {
	hits := ti.tree.SearchIntersect(rtreego.Point{p.Lon, p.Lat}.ToRect(pointTolerance))
	idx := make([]int, len(hits))
	for i, h := range hits {
		idx[i] = h.(*tileEntry).idx
	}
	sort.Ints(idx)
	return idx
}
