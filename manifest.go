package transgeo

import (
	"fmt"
	"slices"
	"sort"
)

// Relation is the kind of correspondence between a ground image and an
// aerial tile.
type Relation int

const (
	RelUnrelated Relation = iota
	RelPositive
	RelSemiPositive
)

func (r Relation) String() string {
	switch r {
	case RelPositive:
		return "positive"
	case RelSemiPositive:
		return "semi-positive"
	default:
		return "unrelated"
	}
}

// An AerialTile is an overhead image chip. Positive and SemiPositive hold the
// keys of the corresponding ground images.
type AerialTile struct {
	ID                   int
	Size                 Size
	Center               LonLat
	PositiveBoundary     Box
	SemiPositiveBoundary Box
	Positive             []string
	SemiPositive         []string
}

// Classify returns the relation of a ground location to the tile. The
// positive boundary takes precedence over the semi-positive one.
func (t AerialTile) Classify(p LonLat) Relation {
	if t.PositiveBoundary.Contains(p) {
		return RelPositive
	}
	if t.SemiPositiveBoundary.Contains(p) {
		return RelSemiPositive
	}
	return RelUnrelated
}

// A GroundImage is a ground level panorama. Positive and SemiPositive hold
// the keys of the corresponding aerial tiles.
type GroundImage struct {
	Location     LonLat
	Size         Size
	Positive     []string
	SemiPositive []string
}

// A Manifest is the bidirectional correspondence graph between aerial tiles
// and ground images, both keyed by their path relative to their root.
//
// For every ground key g and aerial key a, g is in aerial[a].Positive iff a
// is in ground[g].Positive, and likewise for SemiPositive. A pair is never
// both positive and semi-positive. All mutations go through Link,
// RemoveAerial and RemoveGround, which preserve this. Accessors return
// copies.
//
// Keys are always iterated in lexicographic order.
type Manifest struct {
	aerial map[string]*AerialTile
	ground map[string]*GroundImage
}

func NewManifest() *Manifest {
	return &Manifest{
		aerial: make(map[string]*AerialTile),
		ground: make(map[string]*GroundImage),
	}
}

func (m *Manifest) NumAerial() int { return len(m.aerial) }
func (m *Manifest) NumGround() int { return len(m.ground) }

// AerialKeys returns the aerial keys in lexicographic order.
func (m *Manifest) AerialKeys() []string {
	return sortedKeys(m.aerial)
}

// GroundKeys returns the ground keys in lexicographic order.
func (m *Manifest) GroundKeys() []string {
	return sortedKeys(m.ground)
}

func sortedKeys[T any](mp map[string]T) []string {
	keys := make([]string, 0, len(mp))
	for k := range mp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manifest) Aerial(key string) (AerialTile, bool) {
	t, ok := m.aerial[key]
	if !ok {
		return AerialTile{}, false
	}
	c := *t
	c.Positive = slices.Clone(t.Positive)
	c.SemiPositive = slices.Clone(t.SemiPositive)
	return c, true
}

func (m *Manifest) Ground(key string) (GroundImage, bool) {
	g, ok := m.ground[key]
	if !ok {
		return GroundImage{}, false
	}
	c := *g
	c.Positive = slices.Clone(g.Positive)
	c.SemiPositive = slices.Clone(g.SemiPositive)
	return c, true
}

// AddAerial inserts an aerial tile with no correspondences.
func (m *Manifest) AddAerial(key string, t AerialTile) error {
	if _, ok := m.aerial[key]; ok {
		return fmt.Errorf("duplicate aerial key %s", key)
	}
	t.Positive, t.SemiPositive = []string{}, []string{}
	m.aerial[key] = &t
	return nil
}

// AddGround inserts a ground image with no correspondences.
func (m *Manifest) AddGround(key string, g GroundImage) error {
	if _, ok := m.ground[key]; ok {
		return fmt.Errorf("duplicate ground key %s", key)
	}
	g.Positive, g.SemiPositive = []string{}, []string{}
	m.ground[key] = &g
	return nil
}

// Link records a correspondence of the given relation between a ground image
// and an aerial tile, on both endpoints.
func (m *Manifest) Link(groundKey, aerialKey string, rel Relation) error {
	g, ok := m.ground[groundKey]
	if !ok {
		return fmt.Errorf("link: unknown ground key %s", groundKey)
	}
	a, ok := m.aerial[aerialKey]
	if !ok {
		return fmt.Errorf("link: unknown aerial key %s", aerialKey)
	}
	if slices.Contains(g.Positive, aerialKey) || slices.Contains(g.SemiPositive, aerialKey) {
		return fmt.Errorf("link: %s and %s are already linked", groundKey, aerialKey)
	}
	switch rel {
	case RelPositive:
		g.Positive = append(g.Positive, aerialKey)
		a.Positive = append(a.Positive, groundKey)
	case RelSemiPositive:
		g.SemiPositive = append(g.SemiPositive, aerialKey)
		a.SemiPositive = append(a.SemiPositive, groundKey)
	default:
		return fmt.Errorf("link: invalid relation %v", rel)
	}
	return nil
}

// RemoveAerial deletes an aerial tile and scrubs its key from the lists of
// every ground image referencing it. It returns false if the key is unknown.
func (m *Manifest) RemoveAerial(key string) bool {
	a, ok := m.aerial[key]
	if !ok {
		return false
	}
	delete(m.aerial, key)
	for _, gk := range neighbours(a.Positive, a.SemiPositive) {
		if g, ok := m.ground[gk]; ok {
			g.Positive = without(g.Positive, key)
			g.SemiPositive = without(g.SemiPositive, key)
		}
	}
	return true
}

// RemoveGround deletes a ground image and scrubs its key from the lists of
// every aerial tile referencing it. It returns false if the key is unknown.
func (m *Manifest) RemoveGround(key string) bool {
	g, ok := m.ground[key]
	if !ok {
		return false
	}
	delete(m.ground, key)
	for _, ak := range neighbours(g.Positive, g.SemiPositive) {
		if a, ok := m.aerial[ak]; ok {
			a.Positive = without(a.Positive, key)
			a.SemiPositive = without(a.SemiPositive, key)
		}
	}
	return true
}

// Remove deletes key from whichever side of the manifest holds it.
func (m *Manifest) Remove(key string) bool {
	if m.RemoveAerial(key) {
		return true
	}
	return m.RemoveGround(key)
}

func neighbours(a, b []string) []string {
	n := make([]string, 0, len(a)+len(b))
	n = append(n, a...)
	return append(n, b...)
}

func without(list []string, key string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == key })
}

// Check verifies the bidirectional consistency of the manifest and returns an
// *InvariantViolation describing the first inconsistency found.
func (m *Manifest) Check() error {
	for _, ak := range m.AerialKeys() {
		a := m.aerial[ak]
		if err := checkSide(ak, a.Positive, a.SemiPositive, func(gk string) ([]string, []string, bool) {
			g, ok := m.ground[gk]
			if !ok {
				return nil, nil, false
			}
			return g.Positive, g.SemiPositive, true
		}, "aerial", "ground"); err != nil {
			return err
		}
	}
	for _, gk := range m.GroundKeys() {
		g := m.ground[gk]
		if err := checkSide(gk, g.Positive, g.SemiPositive, func(ak string) ([]string, []string, bool) {
			a, ok := m.aerial[ak]
			if !ok {
				return nil, nil, false
			}
			return a.Positive, a.SemiPositive, true
		}, "ground", "aerial"); err != nil {
			return err
		}
	}
	return nil
}

func checkSide(key string, pos, semi []string,
	other func(string) ([]string, []string, bool), side, otherSide string) error {
	seen := make(map[string]Relation, len(pos)+len(semi))
	for _, lst := range []struct {
		keys []string
		rel  Relation
	}{{pos, RelPositive}, {semi, RelSemiPositive}} {
		for _, nk := range lst.keys {
			if prev, dup := seen[nk]; dup {
				if prev == lst.rel {
					return &InvariantViolation{Detail: fmt.Sprintf("%s %s lists %s %s twice", side, key, otherSide, nk)}
				}
				return &InvariantViolation{Detail: fmt.Sprintf("%s %s lists %s %s as both %v and %v",
					side, key, otherSide, nk, prev, lst.rel)}
			}
			seen[nk] = lst.rel
			opos, osemi, exists := other(nk)
			if !exists {
				return &InvariantViolation{Detail: fmt.Sprintf("%s %s references missing %s %s",
					side, key, otherSide, nk)}
			}
			back := opos
			if lst.rel == RelSemiPositive {
				back = osemi
			}
			if !slices.Contains(back, key) {
				return &InvariantViolation{Detail: fmt.Sprintf("%s %s lists %s %s as %v but not the reverse",
					side, key, otherSide, nk, lst.rel)}
			}
		}
	}
	return nil
}
