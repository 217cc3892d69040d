// Package archive packages a curated dataset into a zip file.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/airbusgeo/transgeo"
	"github.com/airbusgeo/transgeo/storage"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/schollz/progressbar/v3"
	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

// Layout names the entries of the archive.
type Layout struct {
	Prefix string
	Area   string
}

func (l Layout) Satellite(key string) string {
	return path.Join(l.Prefix, l.Area, "satellite", path.Base(key))
}

func (l Layout) Panorama(key string) string {
	return path.Join(l.Prefix, l.Area, "panorama", path.Base(key))
}

func (l Layout) SatelliteList() string {
	return path.Join(l.Prefix, "splits", l.Area, "satellite_list.txt")
}

func (l Layout) TrainSplit() string {
	return path.Join(l.Prefix, "splits", l.Area, "same_area_balanced_train.txt")
}

func (l Layout) TestSplit() string {
	return path.Join(l.Prefix, "splits", l.Area, "same_area_balanced_test.txt")
}

func (l Layout) Manifest() string {
	return path.Join(l.Prefix, "manifest.json")
}

func (l Layout) BuildInfo() string {
	return path.Join(l.Prefix, "build.json")
}

// Source holds the roots the manifest keys are relative to.
type Source struct {
	Aerial storage.Bucket
	Ground storage.Bucket
}

type packager struct {
	parallelism int
	logger      *zap.Logger
	progress    io.Writer
}

type Option func(p *packager) error

// Parallelism sets the number of concurrent existence checks.
func Parallelism(n int) Option {
	return func(p *packager) error {
		if n < 1 {
			return fmt.Errorf("archive parallelism must be >=1")
		}
		p.parallelism = n
		return nil
	}
}

func Logger(l *zap.Logger) Option {
	return func(p *packager) error {
		p.logger = l
		return nil
	}
}

// Progress draws progress bars on w while images are copied.
func Progress(w io.Writer) Option {
	return func(p *packager) error {
		p.progress = w
		return nil
	}
}

func newPackager(options []Option) (*packager, error) {
	p := &packager{parallelism: 1, logger: zap.NewNop()}
	for _, o := range options {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p, nil
}

// Resolved lists the manifest keys whose file exists, in key order.
type Resolved struct {
	Aerial []string
	Ground []string
}

func existing(ctx context.Context, p *packager, b storage.Bucket, keys []string, kind string) ([]string, error) {
	found := make([]bool, len(keys))
	pool := gobs.NewPool(p.parallelism)
	batch := pool.Batch()
	for i, k := range keys {
		i, k := i, k
		batch.Submit(func() error {
			ok, err := b.Exists(ctx, k)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", b.Name(k), err)
			}
			found[i] = ok
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		return nil, err
	}
	res := []string{}
	for i, k := range keys {
		if !found[i] {
			p.logger.Warn("source image does not exist, skipping",
				zap.String("kind", kind), zap.String("name", b.Name(k)))
			continue
		}
		res = append(res, k)
	}
	return res, nil
}

// Resolve checks which manifest entries have a source file. Missing files are
// logged and left out.
func Resolve(ctx context.Context, m *transgeo.Manifest, src Source, options ...Option) (Resolved, error) {
	p, err := newPackager(options)
	if err != nil {
		return Resolved{}, err
	}
	aerial, err := existing(ctx, p, src.Aerial, m.AerialKeys(), "aerial")
	if err != nil {
		return Resolved{}, err
	}
	ground, err := existing(ctx, p, src.Ground, m.GroundKeys(), "ground")
	if err != nil {
		return Resolved{}, err
	}
	p.logger.Info("resolved source images",
		zap.Int("aerial", len(aerial)), zap.Int("aerial-missing", m.NumAerial()-len(aerial)),
		zap.Int("ground", len(ground)), zap.Int("ground-missing", m.NumGround()-len(ground)))
	return Resolved{Aerial: aerial, Ground: ground}, nil
}

// BuildInfo records how a dataset was produced.
type BuildInfo struct {
	RunID    string                  `json:"run-id"`
	Created  time.Time               `json:"created"`
	Command  string                  `json:"command"`
	Config   transgeo.Config         `json:"config"`
	Curation transgeo.CurationReport `json:"curation"`
	Aerial   int                     `json:"aerial"`
	Ground   int                     `json:"ground"`
	Train    int                     `json:"train"`
	Test     int                     `json:"test"`
	Skipped  int                     `json:"skipped"`
	Records  struct {
		Train int `json:"train"`
		Test  int `json:"test"`
	} `json:"records"`
}

// Contents is everything that goes into an archive.
type Contents struct {
	Manifest *transgeo.Manifest
	Resolved Resolved
	Train    []transgeo.Record
	Test     []transgeo.Record
	Build    BuildInfo
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Write streams the archive to w. Images are stored as is, text entries are
// deflated.
func Write(ctx context.Context, w io.Writer, src Source, layout Layout, c Contents, options ...Option) error {
	p, err := newPackager(options)
	if err != nil {
		return err
	}
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	modified := c.Build.Created
	if modified.IsZero() {
		modified = time.Now()
	}

	copyImages := func(b storage.Bucket, keys []string, name func(string) string, desc string) error {
		var bar *progressbar.ProgressBar
		if p.progress != nil {
			bar = progressbar.NewOptions(len(keys),
				progressbar.OptionSetDescription(desc),
				progressbar.OptionSetWriter(p.progress),
				progressbar.OptionShowCount(),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer: "=", SaucerPadding: " ", BarStart: "[", BarEnd: "]",
				}))
		}
		for _, k := range keys {
			if err := ctx.Err(); err != nil {
				return err
			}
			fw, err := zw.CreateHeader(&zip.FileHeader{Name: name(k), Method: zip.Store, Modified: modified})
			if err != nil {
				return fmt.Errorf("create entry %s: %w", name(k), err)
			}
			r, err := b.Open(ctx, k)
			if err != nil {
				return fmt.Errorf("open %s: %w", b.Name(k), err)
			}
			_, err = io.Copy(fw, r)
			r.Close()
			if err != nil {
				return fmt.Errorf("copy %s: %w", b.Name(k), err)
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
		return nil
	}
	text := func(name string, write func(io.Writer) error) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return fmt.Errorf("create entry %s: %w", name, err)
		}
		if err := write(fw); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	if err := copyImages(src.Aerial, c.Resolved.Aerial, layout.Satellite, "satellite images"); err != nil {
		return err
	}
	if err := text(layout.SatelliteList(), func(w io.Writer) error {
		names := make([]string, len(c.Resolved.Aerial))
		for i, k := range c.Resolved.Aerial {
			names[i] = path.Base(k)
		}
		_, err := io.WriteString(w, strings.Join(names, "\n"))
		return err
	}); err != nil {
		return err
	}
	if err := copyImages(src.Ground, c.Resolved.Ground, layout.Panorama, "panorama images"); err != nil {
		return err
	}
	if err := text(layout.TrainSplit(), func(w io.Writer) error {
		return transgeo.WriteRecords(w, c.Train)
	}); err != nil {
		return err
	}
	if err := text(layout.TestSplit(), func(w io.Writer) error {
		return transgeo.WriteRecords(w, c.Test)
	}); err != nil {
		return err
	}
	if err := text(layout.Manifest(), c.Manifest.WriteJSON); err != nil {
		return err
	}
	if err := text(layout.BuildInfo(), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(c.Build)
	}); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	p.logger.Info("wrote archive",
		zap.String("size", humanize.Bytes(uint64(cw.n))),
		zap.String("satellite", humanize.Comma(int64(len(c.Resolved.Aerial)))),
		zap.String("panorama", humanize.Comma(int64(len(c.Resolved.Ground)))),
		zap.Int("train-records", len(c.Train)),
		zap.Int("test-records", len(c.Test)))
	return nil
}
