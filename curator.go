package transgeo

import (
	"errors"
	"fmt"
	"math/rand"
	"path"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Pass names, in execution order.
const (
	PassDeduplicate      = "deduplication"
	PassSanitizeNames    = "name sanitation"
	PassPanorama         = "panorama filter"
	PassCapPositives     = "positive capping"
	PassDistractions     = "distraction pruning"
	PassMinSemiPositives = "minimum semi-positives"
)

// PassResult is the number of manifest entries removed by one curation pass.
type PassResult struct {
	Pass          string `json:"pass"`
	RemovedAerial int    `json:"removed-aerial"`
	RemovedGround int    `json:"removed-ground"`
}

// CurationReport lists the passes that ran, in order.
type CurationReport struct {
	Passes []PassResult `json:"passes"`
}

// Removed returns the total number of removed entries.
func (r CurationReport) Removed() int {
	n := 0
	for _, p := range r.Passes {
		n += p.RemovedAerial + p.RemovedGround
	}
	return n
}

type curator struct {
	m      *Manifest
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger
	cur    *PassResult
}

type curationPass struct {
	name string
	run  func()
}

type CurateOption func(c *curator) error

func CurateLogger(l *zap.Logger) CurateOption {
	return func(c *curator) error {
		if l == nil {
			return ErrInvalidOption{"nil logger"}
		}
		c.logger = l
		return nil
	}
}

// Curate prunes m in place with the ordered curation passes configured by
// cfg. All random choices are drawn from rng. The manifest invariant is
// verified after every pass and a failure is returned as an
// *InvariantViolation. Curate must not run concurrently with any other use
// of m.
func Curate(m *Manifest, cfg Config, rng *rand.Rand, options ...CurateOption) (CurationReport, error) {
	report := CurationReport{}
	if err := cfg.Validate(); err != nil {
		return report, err
	}
	if rng == nil {
		return report, ErrInvalidOption{"nil random source"}
	}
	c := &curator{m: m, cfg: cfg, rng: rng, logger: zap.NewNop()}
	for _, o := range options {
		if err := o(c); err != nil {
			return report, err
		}
	}
	if err := m.Check(); err != nil {
		return report, err
	}

	passes := []curationPass{
		{PassDeduplicate, c.deduplicate},
		{PassSanitizeNames, c.sanitizeNames},
		{PassPanorama, c.filterPanoramas},
		{PassCapPositives, c.capPositives},
		{PassDistractions, c.pruneDistractions},
	}
	if cfg.SemiPositivePolicy == PolicyPrune {
		passes = append(passes, curationPass{PassMinSemiPositives, c.pruneFewSemiPositives})
	}

	for _, p := range passes {
		report.Passes = append(report.Passes, PassResult{Pass: p.name})
		c.cur = &report.Passes[len(report.Passes)-1]
		p.run()
		if err := m.Check(); err != nil {
			var iv *InvariantViolation
			if errors.As(err, &iv) {
				iv.Pass = p.name
			}
			return report, err
		}
		c.logger.Info("curation pass done",
			zap.String("pass", p.name),
			zap.Int("removed-aerial", c.cur.RemovedAerial),
			zap.Int("removed-ground", c.cur.RemovedGround),
			zap.Int("aerial", m.NumAerial()),
			zap.Int("ground", m.NumGround()))
	}
	return report, nil
}

func (c *curator) removeAerial(key, reason string) {
	if c.m.RemoveAerial(key) {
		c.cur.RemovedAerial++
		c.logger.Debug("removed aerial image", zap.String("key", key), zap.String("reason", reason))
	}
}

func (c *curator) removeGround(key, reason string) {
	if c.m.RemoveGround(key) {
		c.cur.RemovedGround++
		c.logger.Debug("removed ground image", zap.String("key", key), zap.String("reason", reason))
	}
}

// deduplicate keeps, for every base filename, the first key in the order
// aerial keys (sorted) then ground keys (sorted).
func (c *curator) deduplicate() {
	seen := make(map[string]string)
	for _, k := range c.m.AerialKeys() {
		name := path.Base(k)
		if first, ok := seen[name]; ok {
			c.removeAerial(k, "duplicate of "+first)
			continue
		}
		seen[name] = k
	}
	for _, k := range c.m.GroundKeys() {
		name := path.Base(k)
		if first, ok := seen[name]; ok {
			c.removeGround(k, "duplicate of "+first)
			continue
		}
		seen[name] = k
	}
}

func unsafeName(name string) bool {
	return strings.IndexFunc(name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0
}

func (c *curator) sanitizeNames() {
	for _, k := range c.m.AerialKeys() {
		if unsafeName(path.Base(k)) {
			c.removeAerial(k, "unsafe file name")
		}
	}
	for _, k := range c.m.GroundKeys() {
		if unsafeName(path.Base(k)) {
			c.removeGround(k, "unsafe file name")
		}
	}
}

func (c *curator) filterPanoramas() {
	for _, k := range c.m.GroundKeys() {
		g := c.m.ground[k]
		if g.Size.H == 0 || g.Size.AspectRatio() < c.cfg.PanoramaAspectRatio {
			c.removeGround(k, fmt.Sprintf("not a panorama (%dx%d)", g.Size.W, g.Size.H))
		}
	}
}

// sample returns k indexes drawn uniformly without replacement from [0,n),
// in increasing order.
func sample(rng *rand.Rand, n, k int) []int {
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

// capPositives visits the tiles in key order. Removing the excluded ground
// images of one tile may shrink the positive lists of tiles visited later.
func (c *curator) capPositives() {
	limit := c.cfg.MaxPositivePanoramas
	if limit == 0 {
		return
	}
	for _, ak := range c.m.AerialKeys() {
		a, ok := c.m.aerial[ak]
		if !ok || len(a.Positive) <= limit {
			continue
		}
		pos := append([]string(nil), a.Positive...)
		keep := make(map[string]bool, limit)
		for _, i := range sample(c.rng, len(pos), limit) {
			keep[pos[i]] = true
		}
		c.logger.Debug("capping positive panoramas", zap.String("key", ak), zap.Int("positive", len(pos)))
		for _, gk := range pos {
			if !keep[gk] {
				c.removeGround(gk, "exceeds positive panoramas of "+ak)
			}
		}
	}
}

func (c *curator) pruneDistractions() {
	distractions := []string{}
	for _, k := range c.m.AerialKeys() {
		a := c.m.aerial[k]
		if len(a.Positive) == 0 && len(a.SemiPositive) == 0 {
			distractions = append(distractions, k)
		}
	}
	n := int((1 - c.cfg.DistractionKeepProportion) * float64(len(distractions)))
	if n == 0 {
		return
	}
	for _, i := range sample(c.rng, len(distractions), n) {
		c.removeAerial(distractions[i], "distraction")
	}
}

func (c *curator) pruneFewSemiPositives() {
	for _, k := range c.m.GroundKeys() {
		if n := len(c.m.ground[k].SemiPositive); n < MinSemiPositives {
			c.removeGround(k, fmt.Sprintf("only %d semi-positive aerial images", n))
		}
	}
}
