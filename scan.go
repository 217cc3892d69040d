package transgeo

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tbonfort/gobs"
	"go.uber.org/zap"
)

// SizeProber reads the pixel size of an image file.
type SizeProber interface {
	ProbeSize(filename string) (Size, error)
}

type scanner struct {
	prober      SizeProber
	parallelism int
	logger      *zap.Logger
}

type ScanOption func(s *scanner) error

// ScanProber sets the prober used to read image sizes. Without a prober
// aerial sizes are left empty and ground images must sit in a WxH
// directory.
func ScanProber(p SizeProber) ScanOption {
	return func(s *scanner) error {
		s.prober = p
		return nil
	}
}

// ScanParallelism sets the number of concurrent size probes.
func ScanParallelism(n int) ScanOption {
	return func(s *scanner) error {
		if n < 1 {
			return ErrInvalidOption{"scan parallelism must be >=1"}
		}
		s.parallelism = n
		return nil
	}
}

func ScanLogger(l *zap.Logger) ScanOption {
	return func(s *scanner) error {
		if l == nil {
			return ErrInvalidOption{"nil logger"}
		}
		s.logger = l
		return nil
	}
}

func newScanner(options []ScanOption) (*scanner, error) {
	s := &scanner{parallelism: 1, logger: zap.NewNop()}
	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func isPNG(name string) bool {
	return strings.HasSuffix(name, ".png")
}

// probeAll probes the sizes of the given keys under root on the worker pool.
// Keys whose probe fails are reported as skips.
func (s *scanner) probeAll(root string, keys []string) (map[string]Size, map[string]error) {
	sizes := make(map[string]Size, len(keys))
	failed := make(map[string]error)
	mu := sync.Mutex{}
	pool := gobs.NewPool(s.parallelism)
	batch := pool.Batch()
	for _, k := range keys {
		k := k
		batch.Submit(func() error {
			sz, err := s.prober.ProbeSize(filepath.Join(root, filepath.FromSlash(k)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[k] = err
			} else {
				sizes[k] = sz
			}
			return nil
		})
	}
	_ = batch.Wait()
	return sizes, failed
}

// ScanAerial lists the labelled aerial tiles directly inside dir. Files whose
// name does not parse are logged and skipped. Keys are paths relative to
// dir.
func ScanAerial(dir string, options ...ScanOption) (map[string]AerialTile, error) {
	s, err := newScanner(options)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read aerial directory %s: %w", dir, err)
	}
	labels := make(map[string]AerialLabel)
	keys := []string{}
	for _, e := range entries {
		if e.IsDir() || !isPNG(e.Name()) {
			continue
		}
		lbl, err := ParseAerial(e.Name())
		if err != nil {
			s.logger.Warn("skipping aerial image", zap.Error(err))
			continue
		}
		labels[e.Name()] = lbl
		keys = append(keys, e.Name())
	}

	var sizes map[string]Size
	if s.prober != nil {
		var failed map[string]error
		sizes, failed = s.probeAll(dir, keys)
		for k, err := range failed {
			s.logger.Warn("skipping aerial image",
				zap.Error(&LayoutError{Path: k, Reason: "cannot read size: " + err.Error()}))
			delete(labels, k)
		}
	}

	tiles := make(map[string]AerialTile, len(labels))
	for k, lbl := range labels {
		tiles[k] = AerialTile{
			ID:                   lbl.ID,
			Size:                 sizes[k],
			Center:               lbl.Center,
			PositiveBoundary:     lbl.Positive,
			SemiPositiveBoundary: lbl.SemiPositive,
			Positive:             []string{},
			SemiPositive:         []string{},
		}
	}
	s.logger.Info("scanned aerial images", zap.String("dir", dir), zap.Int("count", len(tiles)))
	return tiles, nil
}

// ScanGround lists the labelled ground images in the tree rooted at root.
// Images must sit at least one directory below root. The size is taken from
// a WxH parent directory when present, and probed otherwise.
func ScanGround(root string, options ...ScanOption) (map[string]GroundImage, error) {
	s, err := newScanner(options)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]GroundLabel)
	unsized := []string{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPNG(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if path.Dir(key) == "." {
			s.logger.Warn("skipping ground image",
				zap.Error(&LayoutError{Path: key, Reason: "not inside a directory"}))
			return nil
		}
		lbl, err := ParseGround(key)
		if err != nil {
			s.logger.Warn("skipping ground image", zap.Error(err))
			return nil
		}
		labels[key] = lbl
		if lbl.Size == (Size{}) {
			unsized = append(unsized, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk ground directory %s: %w", root, err)
	}

	if len(unsized) > 0 {
		if s.prober == nil {
			for _, k := range unsized {
				s.logger.Warn("skipping ground image",
					zap.Error(&LayoutError{Path: k, Reason: "not contained in a directory specifying its size"}))
				delete(labels, k)
			}
		} else {
			sizes, failed := s.probeAll(root, unsized)
			for k, err := range failed {
				s.logger.Warn("skipping ground image",
					zap.Error(&LayoutError{Path: k, Reason: "cannot read size: " + err.Error()}))
				delete(labels, k)
			}
			for k, sz := range sizes {
				lbl := labels[k]
				lbl.Size = sz
				labels[k] = lbl
			}
		}
	}

	images := make(map[string]GroundImage, len(labels))
	for k, lbl := range labels {
		images[k] = GroundImage{
			Location:     lbl.Location,
			Size:         lbl.Size,
			Positive:     []string{},
			SemiPositive: []string{},
		}
	}
	s.logger.Info("scanned ground images", zap.String("root", root), zap.Int("count", len(images)))
	return images, nil
}
