package transgeo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 0.001 degree pixels, north up, origin at lon 10 lat 52
var testGT = GeoTransform{10, 0.001, 0, 52, 0, -0.001}

func TestGeoTransformIndex(t *testing.T) {
	type tc struct {
		x, y     float64
		col, row int
	}
	cases := []tc{
		{10, 52, 0, 0},
		{10.0005, 51.9995, 0, 0},
		{10.5004, 51.4996, 500, 500},
		{10.0015, 51.9975, 1, 2},
		{9.9995, 52.0005, -1, -1},
	}
	for _, c := range cases {
		col, row, err := testGT.Index(c.x, c.y)
		require.NoError(t, err)
		assert.Equal(t, c.col, col, "col of %v,%v", c.x, c.y)
		assert.Equal(t, c.row, row, "row of %v,%v", c.x, c.y)
	}

	_, _, err := GeoTransform{0, 0, 0, 0, 0, 0}.Index(1, 1)
	assert.Error(t, err)
}

func TestPixelTransformOffset(t *testing.T) {
	trn := NewPixelTransform(Geographic{}, testGT)

	off, err := trn.Offset(LonLat{Lon: 10.6, Lat: 50.4}, LonLat{Lon: 10.5, Lat: 50.5})
	require.NoError(t, err)
	// ground is east (more columns) and south (more rows) of the center
	assert.InDelta(t, 100, off.Col, 1)
	assert.InDelta(t, 100, off.Row, 1)

	off, err = trn.Offset(LonLat{Lon: 10.5, Lat: 50.5}, LonLat{Lon: 10.5, Lat: 50.5})
	require.NoError(t, err)
	assert.Equal(t, PixelOffset{}, off)
}

type scaleProjection struct{ k float64 }

func (p scaleProjection) Forward(lon, lat float64) (float64, float64, error) {
	if p.k == 0 {
		return 0, 0, errors.New("degenerate")
	}
	return lon * p.k, lat * p.k, nil
}

func TestPixelTransformProjection(t *testing.T) {
	trn := NewPixelTransform(scaleProjection{k: 1000}, GeoTransform{0, 1, 0, 0, 0, -1})
	col, row, err := trn.ToPixel(1.5, -2.25)
	require.NoError(t, err)
	assert.Equal(t, 1500, col)
	assert.Equal(t, 2250, row)

	_, _, err = NewPixelTransform(scaleProjection{}, testGT).ToPixel(1, 1)
	var te *TransformError
	assert.ErrorAs(t, err, &te)
}

func TestPixelTransformDomain(t *testing.T) {
	trn := NewPixelTransform(nil, testGT)
	cases := []LonLat{
		{Lon: 10, Lat: 91},
		{Lon: 10, Lat: -90.5},
		{Lon: -181, Lat: 0},
		{Lon: 361, Lat: 0},
		{Lon: math.NaN(), Lat: 0},
		{Lon: 0, Lat: math.Inf(1)},
	}
	for _, c := range cases {
		_, _, err := trn.ToPixel(c.Lon, c.Lat)
		var te *TransformError
		assert.ErrorAs(t, err, &te, "%v", c)
	}
	_, err := trn.Offset(LonLat{Lon: 10, Lat: 95}, LonLat{Lon: 10, Lat: 50})
	assert.Error(t, err)
	_, _, err = trn.ToPixel(270, 45)
	assert.NoError(t, err)
}
