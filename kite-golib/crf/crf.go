// Package crf implements a linear-chain conditional random field on top of the tensor
// tape: emission scores come from the network, transition scores are a parameter matrix.
package crf

import (
	"fmt"
	"math"

	"github.com/kiteco/dialogue/kite-golib/tensor"
	"gonum.org/v1/gonum/floats"
)

// CRF scores tag sequences as the sum of per-position emissions and the transitions
// between consecutive tags.
type CRF struct {
	NumTags int
	// Transitions is NumTags x NumTags, row = previous tag, column = next tag.
	Transitions *tensor.Mat
}

// New wraps a transition matrix.
func New(numTags int, transitions *tensor.Mat) *CRF {
	if transitions.Rows != numTags || transitions.Cols != numTags {
		panic(fmt.Sprintf("crf: transitions %v for %d tags", transitions, numTags))
	}
	return &CRF{NumTags: numTags, Transitions: transitions}
}

// Sequences describes padded emissions: sequence s occupies rows s*MaxLen to
// s*MaxLen+Lengths[s]-1 of the emission matrix.
type Sequences struct {
	Emissions *tensor.Mat
	Lengths   []int
	MaxLen    int
}

func (s Sequences) check(numTags int) {
	if s.Emissions.Cols != numTags || s.Emissions.Rows != len(s.Lengths)*s.MaxLen {
		panic(fmt.Sprintf("crf: emissions %v for %d sequences of %d and %d tags",
			s.Emissions, len(s.Lengths), s.MaxLen, numTags))
	}
}

func (s Sequences) row(seq, pos int) []float64 {
	return s.Emissions.Row(seq*s.MaxLen + pos)
}

// lattice holds forward and backward log scores of one sequence.
type lattice struct {
	alpha [][]float64
	beta  [][]float64
	logZ  float64
}

func (c *CRF) lattice(s Sequences, seq int) lattice {
	n, k := s.Lengths[seq], c.NumTags
	l := lattice{alpha: make([][]float64, n), beta: make([][]float64, n)}
	scratch := make([]float64, k)
	for t := 0; t < n; t++ {
		l.alpha[t] = make([]float64, k)
		emit := s.row(seq, t)
		for j := 0; j < k; j++ {
			if t == 0 {
				l.alpha[t][j] = emit[j]
				continue
			}
			for i := 0; i < k; i++ {
				scratch[i] = l.alpha[t-1][i] + c.Transitions.At(i, j)
			}
			l.alpha[t][j] = floats.LogSumExp(scratch) + emit[j]
		}
	}
	for t := n - 1; t >= 0; t-- {
		l.beta[t] = make([]float64, k)
		if t == n-1 {
			continue
		}
		next := s.row(seq, t+1)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				scratch[j] = c.Transitions.At(i, j) + next[j] + l.beta[t+1][j]
			}
			l.beta[t][i] = floats.LogSumExp(scratch)
		}
	}
	l.logZ = floats.LogSumExp(l.alpha[n-1])
	return l
}

// marginal is the posterior probability of tag j at position t.
func (l lattice) marginal(t, j int) float64 {
	return math.Exp(l.alpha[t][j] + l.beta[t][j] - l.logZ)
}

func (c *CRF) score(s Sequences, seq int, tags []int) float64 {
	var total float64
	for t := 0; t < s.Lengths[seq]; t++ {
		total += s.row(seq, t)[tags[t]]
		if t > 0 {
			total += c.Transitions.At(tags[t-1], tags[t])
		}
	}
	return total
}

// NegLogLikelihood returns the 1x1 mean negative log likelihood of the gold tags over
// all non-empty sequences; zero if there are none. Gradients flow to the emissions and
// the transitions.
func (c *CRF) NegLogLikelihood(tp *tensor.Tape, s Sequences, tags [][]int) *tensor.Mat {
	s.check(c.NumTags)
	out := tensor.New(1, 1)
	var live []int
	for seq, n := range s.Lengths {
		if n > 0 {
			if len(tags[seq]) < n {
				panic(fmt.Sprintf("crf: %d tags for a sequence of %d", len(tags[seq]), n))
			}
			live = append(live, seq)
		}
	}
	if len(live) == 0 {
		return out
	}
	lattices := make(map[int]lattice, len(live))
	for _, seq := range live {
		l := c.lattice(s, seq)
		lattices[seq] = l
		out.W[0] += l.logZ - c.score(s, seq, tags[seq])
	}
	norm := 1 / float64(len(live))
	out.W[0] *= norm

	// d/d emission = marginal - gold, d/d transition = pairwise marginal - gold count
	emissions, trans, k := s.Emissions, c.Transitions, c.NumTags
	return tp.Custom(out, func(dout []float64) {
		g := dout[0] * norm
		demit, dtrans := emissions.Grad(), trans.Grad()
		for _, seq := range live {
			l, gold := lattices[seq], tags[seq]
			for t := 0; t < s.Lengths[seq]; t++ {
				off := (seq*s.MaxLen + t) * k
				for j := 0; j < k; j++ {
					demit[off+j] += g * l.marginal(t, j)
				}
				demit[off+gold[t]] -= g
				if t == 0 {
					continue
				}
				emit := s.row(seq, t)
				for i := 0; i < k; i++ {
					for j := 0; j < k; j++ {
						p := math.Exp(l.alpha[t-1][i] + trans.At(i, j) + emit[j] + l.beta[t][j] - l.logZ)
						dtrans[i*k+j] += g * p
					}
				}
				dtrans[gold[t-1]*k+gold[t]] -= g
			}
		}
	})
}

// Decode returns the Viterbi tag sequence of every sequence and, per position, the
// posterior probability of the chosen tag. Sequences of length zero decode to empty.
func (c *CRF) Decode(s Sequences) ([][]int, [][]float64) {
	s.check(c.NumTags)
	k := c.NumTags
	tags := make([][]int, len(s.Lengths))
	conf := make([][]float64, len(s.Lengths))
	for seq, n := range s.Lengths {
		tags[seq] = make([]int, n)
		conf[seq] = make([]float64, n)
		if n == 0 {
			continue
		}
		dp := make([][]float64, n)
		back := make([][]int, n)
		for t := 0; t < n; t++ {
			dp[t] = make([]float64, k)
			back[t] = make([]int, k)
			emit := s.row(seq, t)
			for j := 0; j < k; j++ {
				if t == 0 {
					dp[t][j] = emit[j]
					continue
				}
				best, arg := math.Inf(-1), 0
				for i := 0; i < k; i++ {
					if v := dp[t-1][i] + c.Transitions.At(i, j); v > best {
						best, arg = v, i
					}
				}
				dp[t][j] = best + emit[j]
				back[t][j] = arg
			}
		}
		tags[seq][n-1] = floats.MaxIdx(dp[n-1])
		for t := n - 1; t > 0; t-- {
			tags[seq][t-1] = back[t][tags[seq][t]]
		}
		l := c.lattice(s, seq)
		for t, j := range tags[seq] {
			conf[seq][t] = l.marginal(t, j)
		}
	}
	return tags, conf
}
