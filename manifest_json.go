package transgeo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// wire types use pointers so that missing required fields can be told apart
// from zero values

type lonLatJSON struct {
	Lon *float64 `json:"lon"`
	Lat *float64 `json:"lat"`
}

type sizeJSON struct {
	W *int `json:"w"`
	H *int `json:"h"`
}

type aerialJSON struct {
	ID                   *int         `json:"id"`
	Size                 *sizeJSON    `json:"size"`
	Center               *lonLatJSON  `json:"center"`
	PositiveBoundary     []lonLatJSON `json:"positive-boundary"`
	SemiPositiveBoundary []lonLatJSON `json:"semi-positive-boundary"`
	Positive             []string     `json:"positive"`
	SemiPositive         []string     `json:"semi-positive"`
}

type groundJSON struct {
	Size         *sizeJSON   `json:"size"`
	Location     *lonLatJSON `json:"location"`
	Positive     []string    `json:"positive"`
	SemiPositive []string    `json:"semi-positive"`
}

type manifestJSON struct {
	Aerial map[string]aerialJSON `json:"aerial"`
	Ground map[string]groundJSON `json:"ground"`
}

func (ll *lonLatJSON) value(field string) (LonLat, error) {
	if ll == nil {
		return LonLat{}, fmt.Errorf("missing %s", field)
	}
	if ll.Lon == nil || ll.Lat == nil {
		return LonLat{}, fmt.Errorf("%s: missing lon or lat", field)
	}
	return LonLat{Lon: *ll.Lon, Lat: *ll.Lat}, nil
}

func (s *sizeJSON) value() (Size, error) {
	if s == nil {
		return Size{}, fmt.Errorf("missing size")
	}
	if s.W == nil || s.H == nil {
		return Size{}, fmt.Errorf("size: missing w or h")
	}
	if *s.W < 0 || *s.H < 0 {
		return Size{}, fmt.Errorf("size: negative dimension %dx%d", *s.W, *s.H)
	}
	return Size{W: *s.W, H: *s.H}, nil
}

func boundaryValue(corners []lonLatJSON, field string) (Box, error) {
	if len(corners) != 2 {
		return Box{}, fmt.Errorf("%s: expected 2 corners, got %d", field, len(corners))
	}
	a, err := corners[0].value(field)
	if err != nil {
		return Box{}, err
	}
	b, err := corners[1].value(field)
	if err != nil {
		return Box{}, err
	}
	return NewBox(a, b), nil
}

func (a aerialJSON) tile() (*AerialTile, error) {
	if a.ID == nil {
		return nil, fmt.Errorf("missing id")
	}
	size, err := a.Size.value()
	if err != nil {
		return nil, err
	}
	center, err := a.Center.value("center")
	if err != nil {
		return nil, err
	}
	pb, err := boundaryValue(a.PositiveBoundary, "positive-boundary")
	if err != nil {
		return nil, err
	}
	sb, err := boundaryValue(a.SemiPositiveBoundary, "semi-positive-boundary")
	if err != nil {
		return nil, err
	}
	if a.Positive == nil || a.SemiPositive == nil {
		return nil, fmt.Errorf("missing positive or semi-positive list")
	}
	return &AerialTile{
		ID:                   *a.ID,
		Size:                 size,
		Center:               center,
		PositiveBoundary:     pb,
		SemiPositiveBoundary: sb,
		Positive:             a.Positive,
		SemiPositive:         a.SemiPositive,
	}, nil
}

func (g groundJSON) image() (*GroundImage, error) {
	size, err := g.Size.value()
	if err != nil {
		return nil, err
	}
	loc, err := g.Location.value("location")
	if err != nil {
		return nil, err
	}
	if g.Positive == nil || g.SemiPositive == nil {
		return nil, fmt.Errorf("missing positive or semi-positive list")
	}
	return &GroundImage{
		Location:     loc,
		Size:         size,
		Positive:     g.Positive,
		SemiPositive: g.SemiPositive,
	}, nil
}

func fptr(f float64) *float64 { return &f }
func iptr(i int) *int         { return &i }

func toLonLatJSON(ll LonLat) *lonLatJSON {
	return &lonLatJSON{Lon: fptr(ll.Lon), Lat: fptr(ll.Lat)}
}

func toSizeJSON(s Size) *sizeJSON {
	return &sizeJSON{W: iptr(s.W), H: iptr(s.H)}
}

func toBoundaryJSON(b Box) []lonLatJSON {
	c := b.corners()
	return []lonLatJSON{*toLonLatJSON(c[0]), *toLonLatJSON(c[1])}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// MarshalJSON encodes the manifest. Map keys are emitted in lexicographic
// order by encoding/json, matching the manifest iteration order.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	mj := manifestJSON{
		Aerial: make(map[string]aerialJSON, len(m.aerial)),
		Ground: make(map[string]groundJSON, len(m.ground)),
	}
	for k, a := range m.aerial {
		mj.Aerial[k] = aerialJSON{
			ID:                   iptr(a.ID),
			Size:                 toSizeJSON(a.Size),
			Center:               toLonLatJSON(a.Center),
			PositiveBoundary:     toBoundaryJSON(a.PositiveBoundary),
			SemiPositiveBoundary: toBoundaryJSON(a.SemiPositiveBoundary),
			Positive:             nonNil(a.Positive),
			SemiPositive:         nonNil(a.SemiPositive),
		}
	}
	for k, g := range m.ground {
		mj.Ground[k] = groundJSON{
			Size:         toSizeJSON(g.Size),
			Location:     toLonLatJSON(g.Location),
			Positive:     nonNil(g.Positive),
			SemiPositive: nonNil(g.SemiPositive),
		}
	}
	return json.Marshal(mj)
}

// UnmarshalJSON decodes and validates a manifest. Unknown fields, missing
// required fields and inconsistent correspondence lists are errors.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var mj manifestJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&mj); err != nil {
		return err
	}
	if mj.Aerial == nil || mj.Ground == nil {
		return fmt.Errorf("manifest must have both aerial and ground sections")
	}
	nm := NewManifest()
	for k, a := range mj.Aerial {
		tile, err := a.tile()
		if err != nil {
			return fmt.Errorf("aerial %s: %w", k, err)
		}
		nm.aerial[k] = tile
	}
	for k, g := range mj.Ground {
		img, err := g.image()
		if err != nil {
			return fmt.Errorf("ground %s: %w", k, err)
		}
		nm.ground[k] = img
	}
	if err := nm.Check(); err != nil {
		return err
	}
	*m = *nm
	return nil
}

// WriteJSON writes the indented manifest to w.
func (m *Manifest) WriteJSON(w io.Writer) error {
	raw, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

// ReadManifest decodes a manifest from r.
func ReadManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	m := NewManifest()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadManifest reads a manifest file.
func LoadManifest(filename string) (*Manifest, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := ReadManifest(f)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", filename, err)
	}
	return m, nil
}
