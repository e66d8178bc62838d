package labels

import (
	"math"
	"math/rand"
	"sort"

	"github.com/kiteco/dialogue/kite-go/dialogue/attribute"
	"github.com/kiteco/dialogue/kite-golib/errors"
)

// AllLabels as a budget means no subsetting: every label is a candidate.
const AllLabels = -1

// Metadata records, per label attribute, how many labels participate in it and how
// many negatives to draw from them.
type Metadata struct {
	Total   int                          `json:"total"`
	Counts  [attribute.NumAttributes]int `json:"counts"`
	Budgets [attribute.NumAttributes]int `json:"budgets"`
}

// NewMetadata splits budget across the label attributes in proportion to their
// participation counts, with at least one negative per participating attribute. With
// budget AllLabels every participating label is drawn.
func NewMetadata(s *Space, budget int) (*Metadata, error) {
	m := &Metadata{Total: s.Size()}
	if budget != AllLabels && budget <= 0 {
		return nil, errors.Configf("label batch size is %d, needs to be > 0 or %d", budget, AllLabels)
	}
	if budget != AllLabels && budget > m.Total {
		return nil, errors.Configf("label batch size %d exceeds the %d labels", budget, m.Total)
	}
	for _, a := range s.Attributes() {
		count := len(s.Participates(a))
		m.Counts[a] = count
		if count == 0 {
			continue
		}
		if budget == AllLabels {
			m.Budgets[a] = count
			continue
		}
		n := int(math.Round(float64(count) / float64(m.Total) * float64(budget)))
		if n < 1 {
			n = 1
		}
		if n > count {
			return nil, errors.Configf("%d negatives requested for %s but only %d labels have it", n, a, count)
		}
		m.Budgets[a] = n
	}
	return m, nil
}

// Sampler draws negative label ids. All draws come from its own seeded source, so two
// samplers with the same seed fed the same calls return the same ids.
type Sampler struct {
	space *Space
	meta  *Metadata
	rng   *rand.Rand
}

// NewSampler returns a sampler over s.
func NewSampler(s *Space, meta *Metadata, rng *rand.Rand) *Sampler {
	return &Sampler{space: s, meta: meta, rng: rng}
}

// Sample draws, for each label attribute in enumeration order, its budget of distinct
// ids among the labels participating in that attribute, and returns all of them.
// The same id may be drawn for two attributes.
func (s *Sampler) Sample() []int {
	var out []int
	for _, a := range s.space.Attributes() {
		candidates := s.space.Participates(a)
		n := s.meta.Budgets[a]
		if n >= len(candidates) {
			out = append(out, candidates...)
			continue
		}
		// partial Fisher-Yates over a copy
		pool := append([]int(nil), candidates...)
		for i := 0; i < n; i++ {
			j := i + s.rng.Intn(len(pool)-i)
			pool[i], pool[j] = pool[j], pool[i]
		}
		out = append(out, pool[:n]...)
	}
	return out
}

// UniqueSorted returns the distinct ids of all lists in ascending order, and for each
// id its position in that order.
func UniqueSorted(lists ...[]int) ([]int, map[int]int) {
	seen := make(map[int]bool)
	var ids []int
	for _, l := range lists {
		for _, id := range l {
			if id >= 0 && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Ints(ids)
	pos := make(map[int]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	return ids, pos
}
