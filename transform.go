package transgeo

import (
	"fmt"
	"math"
)

// A Projection maps geodetic coordinates into the CRS of a reference raster.
type Projection interface {
	Forward(lon, lat float64) (x, y float64, err error)
}

// Geographic is the Projection of rasters whose CRS is already lon/lat.
type Geographic struct{}

func (Geographic) Forward(lon, lat float64) (float64, float64, error) {
	return lon, lat, nil
}

// GeoTransform holds the 6 affine coefficients mapping pixel (col,row) to
// CRS coordinates, in GDAL order:
//
//	x = gt[0] + col*gt[1] + row*gt[2]
//	y = gt[3] + col*gt[4] + row*gt[5]
type GeoTransform [6]float64

// Index returns the pixel containing CRS coordinate x,y. Fractional pixel
// positions are floored.
func (gt GeoTransform) Index(x, y float64) (col, row int, err error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) {
		return 0, 0, fmt.Errorf("geotransform %v is not invertible", [6]float64(gt))
	}
	dx, dy := x-gt[0], y-gt[3]
	fc := (gt[5]*dx - gt[2]*dy) / det
	fr := (-gt[4]*dx + gt[1]*dy) / det
	return int(math.Floor(fc)), int(math.Floor(fr)), nil
}

// PixelOffset is a displacement in pixel space.
type PixelOffset struct {
	Row, Col int
}

// PixelTransform converts geodetic coordinates to pixels of a fixed reference
// raster. It holds no mutable state and is safe for concurrent use as long
// as its Projection is.
type PixelTransform struct {
	proj Projection
	gt   GeoTransform
}

// NewPixelTransform creates a PixelTransform from a projection into the
// raster CRS and the raster geotransform.
func NewPixelTransform(proj Projection, gt GeoTransform) PixelTransform {
	if proj == nil {
		proj = Geographic{}
	}
	return PixelTransform{proj: proj, gt: gt}
}

// ToPixel maps a geodetic point to (col,row) of the reference raster.
func (t PixelTransform) ToPixel(lon, lat float64) (col, row int, err error) {
	if err := checkDomain(lon, lat); err != nil {
		return 0, 0, err
	}
	x, y, err := t.proj.Forward(lon, lat)
	if err != nil {
		return 0, 0, &TransformError{Lon: lon, Lat: lat, Reason: err.Error()}
	}
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return 0, 0, &TransformError{Lon: lon, Lat: lat, Reason: "projection returned a non finite value"}
	}
	col, row, err = t.gt.Index(x, y)
	if err != nil {
		return 0, 0, &TransformError{Lon: lon, Lat: lat, Reason: err.Error()}
	}
	return col, row, nil
}

// Offset returns pixel(ground) - pixel(aerial).
func (t PixelTransform) Offset(ground, aerial LonLat) (PixelOffset, error) {
	gc, gr, err := t.ToPixel(ground.Lon, ground.Lat)
	if err != nil {
		return PixelOffset{}, err
	}
	ac, ar, err := t.ToPixel(aerial.Lon, aerial.Lat)
	if err != nil {
		return PixelOffset{}, err
	}
	return PixelOffset{Row: gr - ar, Col: gc - ac}, nil
}

// longitudes are accepted in both the [-180,180] and [0,360] conventions
func checkDomain(lon, lat float64) error {
	switch {
	case math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0):
		return &TransformError{Lon: lon, Lat: lat, Reason: "coordinate is not finite"}
	case lat < -90 || lat > 90:
		return &TransformError{Lon: lon, Lat: lat, Reason: "latitude out of range"}
	case lon < -180 || lon > 360:
		return &TransformError{Lon: lon, Lat: lat, Reason: "longitude out of range"}
	}
	return nil
}
