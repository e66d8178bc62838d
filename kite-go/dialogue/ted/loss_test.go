package ted

import (
	"math"
	"math/rand"
	"testing"

	"github.com/kiteco/dialogue/kite-golib/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func randMat(rng *rand.Rand, rows, cols int) *tensor.Mat {
	m := tensor.New(rows, cols)
	for i := range m.W {
		m.W[i] = rng.NormFloat64()
	}
	return m
}

func allValid(rows, negs int) [][]bool {
	valid := make([][]bool, rows)
	for i := range valid {
		valid[i] = make([]bool, negs)
		for k := range valid[i] {
			valid[i][k] = true
		}
	}
	return valid
}

func TestConfidences(t *testing.T) {
	conf := confidences([]float64{1, 2, 3}, SoftmaxConfidence)
	assert.InDelta(t, 1, floats.Sum(conf), 1e-9)
	assert.True(t, conf[2] > conf[1] && conf[1] > conf[0])

	conf = confidences([]float64{-1, 1, 3}, LinearNormConfidence)
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.75}, conf, 1e-9)

	assert.Equal(t, []float64{0, 0}, confidences([]float64{-1, -2}, LinearNormConfidence))
	assert.Empty(t, confidences(nil, SoftmaxConfidence))
}

func TestNormalizeTopK(t *testing.T) {
	out := normalizeTopK([]float64{0.1, 0.5, 0.2, 0.2}, 2)
	assert.InDelta(t, 0, out[0], 1e-9)
	assert.InDelta(t, 0.5/0.7, out[1], 1e-9)
	assert.InDelta(t, 1, floats.Sum(out), 1e-9)

	all := normalizeTopK([]float64{0.1, 0.3}, 0)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, all, 1e-9)
}

func TestRankingAccuracy(t *testing.T) {
	hp := testHParams()
	d := tensor.FromRows(2, [][]float64{{1, 0}, {0, 1}})
	pos := tensor.FromRows(2, [][]float64{{1, 0}, {0, 1}})
	neg := tensor.FromRows(2, [][]float64{{-1, 0}, {0, -1}})

	in := rankingInput{dialogue: d, positive: pos, negatives: neg, valid: allValid(2, 2)}
	good, acc := newRankingLoss(hp).forward(tensor.NewTape(false), in)
	assert.Equal(t, 1.0, acc)

	in.positive, in.negatives = neg, pos
	bad, acc := newRankingLoss(hp).forward(tensor.NewTape(false), in)
	assert.Equal(t, 0.0, acc)
	assert.True(t, bad.W[0] > good.W[0])
}

func TestRankingIgnoresInvalidNegatives(t *testing.T) {
	hp := testHParams()
	d := tensor.FromRows(2, [][]float64{{1, 0}})
	pos := tensor.FromRows(2, [][]float64{{1, 0}})
	neg := tensor.FromRows(2, [][]float64{{5, 0}})

	_, acc := newRankingLoss(hp).forward(tensor.NewTape(false), rankingInput{
		dialogue: d, positive: pos, negatives: neg, valid: [][]bool{{false}},
	})
	assert.Equal(t, 1.0, acc)
}

func TestRankingNoRows(t *testing.T) {
	loss, acc := newRankingLoss(testHParams()).forward(tensor.NewTape(true), rankingInput{
		dialogue: tensor.New(0, 3), positive: tensor.New(0, 3), negatives: tensor.New(2, 3),
	})
	assert.Equal(t, 0.0, loss.W[0])
	assert.Equal(t, 0.0, acc)
}

func TestRankingLossGradients(t *testing.T) {
	crossEntropy := testHParams()
	crossEntropy.ScaleLoss = false
	crossEntropy.ConstrainSimilarities = true

	margin := testHParams()
	margin.LossType = MarginLoss
	margin.UseMaxNegSim = false

	cosine := testHParams()
	cosine.ScaleLoss = false
	cosine.SimilarityType = CosineSimilarity

	for name, hp := range map[string]HParams{"cross_entropy": crossEntropy, "margin": margin, "cosine": cosine} {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			d, pos, neg := randMat(rng, 3, 4), randMat(rng, 3, 4), randMat(rng, 5, 4)
			valid := allValid(3, 5)
			valid[1][2] = false
			loss := newRankingLoss(hp)
			f := func(tp *tensor.Tape) *tensor.Mat {
				out, _ := loss.forward(tp, rankingInput{dialogue: d, positive: pos, negatives: neg, valid: valid})
				return out
			}

			tp := tensor.NewTape(true)
			tp.Backward(f(tp))
			const h = 1e-6
			for _, m := range []*tensor.Mat{d, pos, neg} {
				analytic := append([]float64(nil), m.Grad()...)
				for i := range m.W {
					orig := m.W[i]
					m.W[i] = orig + h
					plus := f(tensor.NewTape(false)).W[0]
					m.W[i] = orig - h
					minus := f(tensor.NewTape(false)).W[0]
					m.W[i] = orig
					numeric := (plus - minus) / (2 * h)
					require.False(t, math.IsNaN(analytic[i]))
					assert.InDelta(t, numeric, analytic[i], 1e-4)
				}
			}
		})
	}
}
