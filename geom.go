package transgeo

// LonLat is a geodetic position in degrees.
type LonLat struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Size is a pixel size.
type Size struct {
	W int `json:"w"`
	H int `json:"h"`
}

// AspectRatio returns W/H, or 0 for a zero height.
func (s Size) AspectRatio() float64 {
	if s.H == 0 {
		return 0
	}
	return float64(s.W) / float64(s.H)
}

// Box is a lon/lat rectangle. Containment is inclusive on all four edges.
type Box struct {
	MinLon, MaxLon float64
	MinLat, MaxLat float64
}

// NewBox returns the box spanned by two opposite corners, in any order.
func NewBox(a, b LonLat) Box {
	bx := Box{MinLon: a.Lon, MaxLon: b.Lon, MinLat: a.Lat, MaxLat: b.Lat}
	if bx.MinLon > bx.MaxLon {
		bx.MinLon, bx.MaxLon = bx.MaxLon, bx.MinLon
	}
	if bx.MinLat > bx.MaxLat {
		bx.MinLat, bx.MaxLat = bx.MaxLat, bx.MinLat
	}
	return bx
}

func (b Box) Contains(p LonLat) bool {
	return b.MinLon <= p.Lon && p.Lon <= b.MaxLon &&
		b.MinLat <= p.Lat && p.Lat <= b.MaxLat
}

// ContainsBox reports whether o lies entirely inside b.
func (b Box) ContainsBox(o Box) bool {
	return b.MinLon <= o.MinLon && o.MaxLon <= b.MaxLon &&
		b.MinLat <= o.MinLat && o.MaxLat <= b.MaxLat
}

// Center returns the midpoint of the box.
func (b Box) Center() LonLat {
	return LonLat{Lon: (b.MinLon + b.MaxLon) / 2, Lat: (b.MinLat + b.MaxLat) / 2}
}

// corners returns the top-left {min lon, max lat} and bottom-right
// {max lon, min lat} corners, the order used in manifest files.
func (b Box) corners() [2]LonLat {
	return [2]LonLat{
		{Lon: b.MinLon, Lat: b.MaxLat},
		{Lon: b.MaxLon, Lat: b.MinLat},
	}
}
