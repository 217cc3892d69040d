package transgeo

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Offsetter computes the pixel offset of a ground location relative to an
// aerial tile center in the reference raster.
type Offsetter interface {
	Offset(ground, aerial LonLat) (PixelOffset, error)
}

// Correspondence is an aerial tile name and the pixel offset of the ground
// image relative to its center.
type Correspondence struct {
	Name   string
	Offset PixelOffset
}

// Record is one line of a split file: a ground image, one positive tile and
// up to MinSemiPositives semi-positive tiles.
type Record struct {
	Ground        string
	Positive      Correspondence
	SemiPositives []Correspondence
}

// String formats the record as
// "<ground> <positive> <row> <col> [<semi> <row> <col>]...".
func (r Record) String() string {
	sb := strings.Builder{}
	sb.WriteString(r.Ground)
	for _, c := range append([]Correspondence{r.Positive}, r.SemiPositives...) {
		sb.WriteByte(' ')
		sb.WriteString(c.Name)
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(c.Offset.Row))
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(c.Offset.Col))
	}
	return sb.String()
}

type recorder struct {
	logger *zap.Logger
}

type RecordOption func(r *recorder) error

func RecordLogger(l *zap.Logger) RecordOption {
	return func(r *recorder) error {
		if l == nil {
			return ErrInvalidOption{"nil logger"}
		}
		r.logger = l
		return nil
	}
}

// Records emits, for every ground key in order, one record per positive tile.
// Each record carries the first MinSemiPositives semi-positive tiles of the
// ground image. With PolicyFilter, ground images with fewer semi-positives
// produce no record. Names in records are base filenames.
func Records(m *Manifest, keys []string, tr Offsetter, policy SemiPositivePolicy, options ...RecordOption) ([]Record, error) {
	rc := recorder{logger: zap.NewNop()}
	for _, o := range options {
		if err := o(&rc); err != nil {
			return nil, err
		}
	}
	offset := func(g GroundImage, ak string) (Correspondence, error) {
		a, ok := m.Aerial(ak)
		if !ok {
			return Correspondence{}, fmt.Errorf("unknown aerial key %s", ak)
		}
		off, err := tr.Offset(g.Location, a.Center)
		if err != nil {
			return Correspondence{}, fmt.Errorf("offset to %s: %w", ak, err)
		}
		return Correspondence{Name: path.Base(ak), Offset: off}, nil
	}

	records := []Record{}
	for _, gk := range keys {
		g, ok := m.Ground(gk)
		if !ok {
			return nil, fmt.Errorf("unknown ground key %s", gk)
		}
		if len(g.Positive) == 0 {
			rc.logger.Debug("no positive aerial image", zap.String("key", gk))
			continue
		}
		if policy == PolicyFilter && len(g.SemiPositive) < MinSemiPositives {
			rc.logger.Debug("too few semi-positive aerial images",
				zap.String("key", gk), zap.Int("semi-positive", len(g.SemiPositive)))
			continue
		}
		semiKeys := g.SemiPositive
		if len(semiKeys) > MinSemiPositives {
			semiKeys = semiKeys[:MinSemiPositives]
		}
		semis := make([]Correspondence, 0, len(semiKeys))
		for _, ak := range semiKeys {
			c, err := offset(g, ak)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", gk, err)
			}
			semis = append(semis, c)
		}
		for _, ak := range g.Positive {
			c, err := offset(g, ak)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", gk, err)
			}
			records = append(records, Record{Ground: path.Base(gk), Positive: c, SemiPositives: semis})
		}
	}
	return records, nil
}

// WriteRecords writes one record per line.
func WriteRecords(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := bw.WriteString(r.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
