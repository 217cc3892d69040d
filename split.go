package transgeo

import (
	"fmt"
	"math/rand"
	"sort"
)

// SplitResult is a partition of ground keys. Train and Test are disjoint and
// sorted. Skipped holds the keys the strategy could not place.
type SplitResult struct {
	Train   []string
	Test    []string
	Skipped []string
}

// Split divides keys into a train and a test set. proportion is the share of
// images (StrategyRandom) or episodes (StrategyEpisode) that go to train,
// rounded down. With StrategyEpisode every image follows its episode, so an
// episode never contributes to both sets; keys without an episode number
// are returned in Skipped.
func Split(keys []string, strategy SplitStrategy, proportion float64, rng *rand.Rand) (SplitResult, error) {
	if err := proportionOK(proportion); err != nil {
		return SplitResult{}, err
	}
	if rng == nil {
		return SplitResult{}, ErrInvalidOption{"nil random source"}
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	sorted = compactSorted(sorted)

	switch strategy {
	case StrategyRandom:
		return splitRandom(sorted, proportion, rng), nil
	case StrategyEpisode:
		return splitEpisode(sorted, proportion, rng), nil
	}
	return SplitResult{}, ErrInvalidOption{fmt.Sprintf("unknown split strategy %q", strategy)}
}

func proportionOK(p float64) error {
	if !(p >= 0 && p <= 1) {
		return ErrInvalidOption{fmt.Sprintf("proportion %g is not in [0,1]", p)}
	}
	return nil
}

func compactSorted(s []string) []string {
	out := s[:0]
	for i, k := range s {
		if i > 0 && k == s[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}

func splitRandom(keys []string, p float64, rng *rand.Rand) SplitResult {
	res := SplitResult{Train: []string{}, Test: []string{}, Skipped: []string{}}
	train := make(map[int]bool)
	for _, i := range sample(rng, len(keys), int(float64(len(keys))*p)) {
		train[i] = true
	}
	for i, k := range keys {
		if train[i] {
			res.Train = append(res.Train, k)
		} else {
			res.Test = append(res.Test, k)
		}
	}
	return res
}

func splitEpisode(keys []string, p float64, rng *rand.Rand) SplitResult {
	res := SplitResult{Train: []string{}, Test: []string{}, Skipped: []string{}}
	episodes := make(map[string]int, len(keys))
	distinct := make(map[int]bool)
	for _, k := range keys {
		ep, err := ParseEpisode(k)
		if err != nil {
			res.Skipped = append(res.Skipped, k)
			continue
		}
		episodes[k] = ep
		distinct[ep] = true
	}
	ids := make([]int, 0, len(distinct))
	for ep := range distinct {
		ids = append(ids, ep)
	}
	sort.Ints(ids)
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	train := make(map[int]bool)
	for _, ep := range ids[:int(float64(len(ids))*p)] {
		train[ep] = true
	}
	for _, k := range keys {
		ep, ok := episodes[k]
		if !ok {
			continue
		}
		if train[ep] {
			res.Train = append(res.Train, k)
		} else {
			res.Test = append(res.Test, k)
		}
	}
	return res
}
