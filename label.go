package transgeo

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

const (
	coord = `(-?\d+\.\d+)`

	GrammarAerial  = "aerial image"
	GrammarGround  = "ground image"
	GrammarEpisode = "episode"
)

var (
	// <id>_<clon>_<clat>_<pminlon>_<pmaxlat>_<pmaxlon>_<pminlat>_<sminlon>_<smaxlat>_<smaxlon>_<sminlat>.png
	extendedAerialRe = regexp.MustCompile(`^(\d+)` + strings.Repeat("_"+coord, 10) + `\.png$`)
	// <id>_<latmin>_<latmax>_<lonmin>_<lonmax>.png
	basicAerialRe = regexp.MustCompile(`^(\d+)` + strings.Repeat("_"+coord, 4) + `\.png$`)

	latLongGroundRe = regexp.MustCompile(`^LAT_` + coord + `LONG_` + coord + `.*\.png$`)
	plainGroundRe   = regexp.MustCompile(`^` + coord + `_` + coord + `_.*\.png$`)

	sizeDirRe = regexp.MustCompile(`^(\d+)x(\d+)$`)
	episodeRe = regexp.MustCompile(`_(\d{4})_`)
)

// AerialLabel is the metadata encoded in an aerial tile filename.
type AerialLabel struct {
	ID           int
	Center       LonLat
	Positive     Box
	SemiPositive Box
}

// GroundLabel is the metadata encoded in a ground image path. Size is the
// zero value when the image is not stored under a WxH directory.
type GroundLabel struct {
	Location LonLat
	Size     Size
}

// ParseAerial parses an aerial tile filename. The extended grammar carries a
// center and two nested boxes; the basic grammar carries a single box which
// is used as both boundaries, centered on its midpoint.
func ParseAerial(name string) (AerialLabel, error) {
	base := path.Base(name)
	if m := extendedAerialRe.FindStringSubmatch(base); m != nil {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return AerialLabel{}, &LabelParseError{Name: name, Grammar: GrammarAerial}
		}
		v, err := parseFloats(m[2:])
		if err != nil {
			return AerialLabel{}, &LabelParseError{Name: name, Grammar: GrammarAerial}
		}
		return AerialLabel{
			ID:           id,
			Center:       LonLat{Lon: v[0], Lat: v[1]},
			Positive:     NewBox(LonLat{Lon: v[2], Lat: v[3]}, LonLat{Lon: v[4], Lat: v[5]}),
			SemiPositive: NewBox(LonLat{Lon: v[6], Lat: v[7]}, LonLat{Lon: v[8], Lat: v[9]}),
		}, nil
	}
	if m := basicAerialRe.FindStringSubmatch(base); m != nil {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return AerialLabel{}, &LabelParseError{Name: name, Grammar: GrammarAerial}
		}
		v, err := parseFloats(m[2:])
		if err != nil {
			return AerialLabel{}, &LabelParseError{Name: name, Grammar: GrammarAerial}
		}
		box := NewBox(LonLat{Lon: v[2], Lat: v[0]}, LonLat{Lon: v[3], Lat: v[1]})
		return AerialLabel{
			ID:           id,
			Center:       box.Center(),
			Positive:     box,
			SemiPositive: box,
		}, nil
	}
	return AerialLabel{}, &LabelParseError{Name: name, Grammar: GrammarAerial}
}

// ParseGround parses a ground image path relative to its root. If the
// immediate parent directory is named WxH, it is returned as the image size.
func ParseGround(name string) (GroundLabel, error) {
	base := path.Base(name)
	m := latLongGroundRe.FindStringSubmatch(base)
	if m == nil {
		m = plainGroundRe.FindStringSubmatch(base)
	}
	if m == nil {
		return GroundLabel{}, &LabelParseError{Name: name, Grammar: GrammarGround}
	}
	v, err := parseFloats(m[1:])
	if err != nil {
		return GroundLabel{}, &LabelParseError{Name: name, Grammar: GrammarGround}
	}
	lbl := GroundLabel{Location: LonLat{Lat: v[0], Lon: v[1]}}
	if dir := path.Dir(name); dir != "." {
		if sz, ok := ParseSizeDir(path.Base(dir)); ok {
			lbl.Size = sz
		}
	}
	return lbl, nil
}

// ParseSizeDir parses a WxH directory name.
func ParseSizeDir(dir string) (Size, bool) {
	m := sizeDirRe.FindStringSubmatch(dir)
	if m == nil {
		return Size{}, false
	}
	w, errw := strconv.Atoi(m[1])
	h, errh := strconv.Atoi(m[2])
	if errw != nil || errh != nil {
		return Size{}, false
	}
	return Size{W: w, H: h}, true
}

// ParseEpisode extracts the capture episode (sol) number: the first
// four digit segment delimited by underscores in the base filename.
func ParseEpisode(name string) (int, error) {
	m := episodeRe.FindStringSubmatch(path.Base(name))
	if m == nil {
		return 0, &LabelParseError{Name: name, Grammar: GrammarEpisode}
	}
	ep, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, &LabelParseError{Name: name, Grammar: GrammarEpisode}
	}
	return ep, nil
}

func parseFloats(s []string) ([]float64, error) {
	v := make([]float64, len(s))
	for i := range s {
		f, err := strconv.ParseFloat(s[i], 64)
		if err != nil {
			return nil, err
		}
		v[i] = f
	}
	return v, nil
}
