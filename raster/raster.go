// Package raster reads georeferencing and image sizes through GDAL.
package raster

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/osio"
	"github.com/airbusgeo/osio/gcs"
	"github.com/airbusgeo/transgeo"
)

var registerOnce sync.Once

// Register registers the GDAL drivers. It is safe to call more than once.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// RegisterGCS makes gs:// paths readable by GDAL through a block cache of
// numBlocks blocks of blockSize (e.g. "512k").
func RegisterGCS(ctx context.Context, stcl *storage.Client, blockSize string, numBlocks int) error {
	gcsh, err := gcs.Handle(ctx, gcs.GCSClient(stcl))
	if err != nil {
		return fmt.Errorf("gcs.handle: %w", err)
	}
	gcsa, err := osio.NewAdapter(gcsh, osio.BlockSize(blockSize), osio.NumCachedBlocks(numBlocks))
	if err != nil {
		return fmt.Errorf("osio.new: %w", err)
	}
	if err := godal.RegisterVSIHandler("gs://", gcsa); err != nil {
		return fmt.Errorf("register osio: %w", err)
	}
	return nil
}

type options struct {
	config []string
}

type Option func(o *options)

// ConfigOptions sets GDAL configuration options (KEY=VALUE) for the calls
// made on the dataset.
func ConfigOptions(opts ...string) Option {
	return func(o *options) {
		o.config = append(o.config, opts...)
	}
}

// Reference is the georeferenced raster that pixel offsets are measured in.
// It projects geodetic coordinates of the raster's body onto the raster CRS.
type Reference struct {
	name string
	gt   transgeo.GeoTransform

	// godal transforms are not safe for concurrent use
	mu      sync.Mutex
	trn     *godal.Transform
	geodSRS *godal.SpatialRef
	srs     *godal.SpatialRef
}

// Open reads the geotransform and CRS of the named raster. The geodetic CRS
// is built from the ellipsoid of the raster CRS, so non terrestrial bodies
// are handled.
func Open(name string, opts ...Option) (*Reference, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	ds, err := godal.Open(name, godal.RasterOnly(), godal.ConfigOption(o.config...))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer ds.Close()

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, fmt.Errorf("geotransform %s: %w", name, err)
	}
	wkt := ds.Projection()
	if wkt == "" {
		return nil, fmt.Errorf("%s has no coordinate reference system", name)
	}
	srs, err := godal.NewSpatialRefFromWKT(wkt)
	if err != nil {
		return nil, fmt.Errorf("parse crs of %s: %w", name, err)
	}
	geod, err := geodeticOf(srs)
	if err != nil {
		srs.Close()
		return nil, fmt.Errorf("geodetic crs of %s: %w", name, err)
	}
	trn, err := godal.NewTransform(geod, srs)
	if err != nil {
		srs.Close()
		geod.Close()
		return nil, fmt.Errorf("create transform for %s: %w", name, err)
	}
	return &Reference{
		name:    name,
		gt:      transgeo.GeoTransform(gt),
		trn:     trn,
		geodSRS: geod,
		srs:     srs,
	}, nil
}

func geodeticOf(srs *godal.SpatialRef) (*godal.SpatialRef, error) {
	a, err := srs.SemiMajor()
	if err != nil {
		return nil, err
	}
	b, err := srs.SemiMinor()
	if err != nil {
		return nil, err
	}
	return godal.NewSpatialRefFromProj4(fmt.Sprintf("+proj=longlat +a=%.10g +b=%.10g +no_defs", a, b))
}

// Forward projects a geodetic lon/lat onto the raster CRS.
func (r *Reference) Forward(lon, lat float64) (float64, float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	x, y, z := []float64{lon}, []float64{lat}, []float64{0}
	ok := []bool{false}
	if err := r.trn.TransformEx(x, y, z, ok); err != nil {
		return 0, 0, err
	}
	if !ok[0] {
		return 0, 0, fmt.Errorf("cannot project (%g,%g) onto %s", lon, lat, r.name)
	}
	return x[0], y[0], nil
}

func (r *Reference) GeoTransform() transgeo.GeoTransform {
	return r.gt
}

// PixelTransform returns the geodetic to pixel transform of the raster.
func (r *Reference) PixelTransform() transgeo.PixelTransform {
	return transgeo.NewPixelTransform(r, r.gt)
}

func (r *Reference) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trn != nil {
		r.trn.Close()
		r.geodSRS.Close()
		r.srs.Close()
		r.trn = nil
	}
	return nil
}

// Prober reads image sizes from file headers.
type Prober struct {
	config []string
}

func NewProber(opts ...Option) *Prober {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Prober{config: o.config}
}

func (p *Prober) ProbeSize(filename string) (transgeo.Size, error) {
	ds, err := godal.Open(filename, godal.RasterOnly(), godal.ConfigOption(p.config...))
	if err != nil {
		return transgeo.Size{}, fmt.Errorf("open %s: %w", filename, err)
	}
	defer ds.Close()
	st := ds.Structure()
	return transgeo.Size{W: st.SizeX, H: st.SizeY}, nil
}
