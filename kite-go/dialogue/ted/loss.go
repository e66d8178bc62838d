package ted

import (
	"math"

	"github.com/kiteco/dialogue/kite-golib/tensor"
	"gonum.org/v1/gonum/floats"
)

// rankingLoss scores every dialogue embedding against the embedding of its positive
// label and against shared negative label embeddings.
type rankingLoss struct {
	hp         HParams
	similarity string
}

func newRankingLoss(hp HParams) rankingLoss {
	return rankingLoss{hp: hp, similarity: hp.Similarity()}
}

// rankingInput holds N dialogue rows, their N positive labels and K negative labels.
// valid[i][k] tells whether negative k may be used against row i.
type rankingInput struct {
	dialogue  *tensor.Mat
	positive  *tensor.Mat
	negatives *tensor.Mat
	valid     [][]bool
}

// similarities returns the N x (1+K) matrix of [positive, negatives] similarities and,
// for the margin loss, the N x K similarities between each positive label and the
// negatives.
func (l rankingLoss) similarities(tp *tensor.Tape, in rankingInput) (*tensor.Mat, *tensor.Mat) {
	d, pos, neg := in.dialogue, in.positive, in.negatives
	if l.similarity == CosineSimilarity {
		d, pos, neg = tp.L2Normalize(d), tp.L2Normalize(pos), tp.L2Normalize(neg)
	}
	sims := tp.ConcatCols(tp.RowDot(d, pos), tp.MatMulT(d, neg))
	if l.hp.LossType != MarginLoss {
		return sims, nil
	}
	return sims, tp.MatMulT(pos, neg)
}

// forward returns the 1x1 loss and the accuracy: the share of rows whose positive
// label is more similar than every usable negative.
func (l rankingLoss) forward(tp *tensor.Tape, in rankingInput) (*tensor.Mat, float64) {
	n := in.dialogue.Rows
	if n == 0 {
		return tensor.New(1, 1), 0
	}
	sims, labelSims := l.similarities(tp, in)

	var correct float64
	for i := 0; i < n; i++ {
		row := sims.Row(i)
		best := true
		for k, ok := range in.valid[i] {
			if ok && row[1+k] >= row[0] {
				best = false
				break
			}
		}
		if best {
			correct++
		}
	}
	accuracy := correct / float64(n)

	if l.hp.LossType == MarginLoss {
		return l.margin(tp, sims, labelSims, in.valid), accuracy
	}
	return l.crossEntropy(tp, sims, in.valid), accuracy
}

// crossEntropy is the softmax loss over [positive, usable negatives], optionally
// focused on poorly ranked rows and with sigmoid terms pulling positive similarities
// up and negative ones down.
func (l rankingLoss) crossEntropy(tp *tensor.Tape, sims *tensor.Mat, valid [][]bool) *tensor.Mat {
	n := sims.Rows
	out := tensor.New(1, 1)
	probs := tensor.New(sims.Rows, sims.Cols)
	weights := make([]float64, n)
	allowed := func(i, k int) bool { return k == 0 || valid[i][k-1] }

	for i := 0; i < n; i++ {
		row, p := sims.Row(i), probs.Row(i)
		max := row[0]
		for k := range row {
			if allowed(i, k) && row[k] > max {
				max = row[k]
			}
		}
		var sum float64
		for k := range row {
			if allowed(i, k) {
				p[k] = math.Exp(row[k] - max)
				sum += p[k]
			}
		}
		floats.Scale(1/sum, p)
		weights[i] = 1
		if l.hp.ScaleLoss && p[0] > 0.5 {
			// stop-gradient focusing weight
			weights[i] = math.Pow((1-p[0])/0.5, 4)
		}
		out.W[0] += weights[i] * -math.Log(math.Max(p[0], 1e-30)) / float64(n)

		if l.hp.ConstrainSimilarities {
			out.W[0] += softplus(-row[0]) / float64(n)
			if negs := countValid(valid[i]); negs > 0 {
				for k := 1; k < len(row); k++ {
					if valid[i][k-1] {
						out.W[0] += softplus(row[k]) / float64(negs) / float64(n)
					}
				}
			}
		}
	}
	return tp.Custom(out, func(dout []float64) {
		g := dout[0] / float64(n)
		ds := sims.Grad()
		for i := 0; i < n; i++ {
			row, p := sims.Row(i), probs.Row(i)
			d := ds[i*sims.Cols : (i+1)*sims.Cols]
			for k := range p {
				if allowed(i, k) {
					d[k] += g * weights[i] * p[k]
				}
			}
			d[0] -= g * weights[i]
			if l.hp.ConstrainSimilarities {
				d[0] += g * (sigmoid(row[0]) - 1)
				if negs := countValid(valid[i]); negs > 0 {
					for k := 1; k < len(row); k++ {
						if valid[i][k-1] {
							d[k] += g * sigmoid(row[k]) / float64(negs)
						}
					}
				}
			}
		}
	})
}

// margin pushes positive similarities above MaxPosSim and negative ones (dialogue to
// negative label, and scaled, positive label to negative label) below MaxNegSim.
func (l rankingLoss) margin(tp *tensor.Tape, sims, labelSims *tensor.Mat, valid [][]bool) *tensor.Mat {
	n := sims.Rows
	hp := l.hp
	out := tensor.New(1, 1)
	type term struct {
		m     *tensor.Mat
		row   int
		col   int
		sign  float64
		scale float64
	}
	var active []term
	add := func(m *tensor.Mat, i, k int, sign, scale, slack float64) {
		if slack > 0 {
			out.W[0] += scale * slack / float64(n)
			active = append(active, term{m, i, k, sign, scale})
		}
	}
	for i := 0; i < n; i++ {
		row := sims.Row(i)
		add(sims, i, 0, -1, 1, hp.MaxPosSim-row[0])

		for _, neg := range []struct {
			m      *tensor.Mat
			offset int
			scale  float64
		}{{sims, 1, 1}, {labelSims, 0, hp.NegativeMarginScale}} {
			r := neg.m.Row(i)
			if hp.UseMaxNegSim {
				best := -1
				for k, ok := range valid[i] {
					if ok && (best < 0 || r[neg.offset+k] > r[neg.offset+best]) {
						best = k
					}
				}
				if best >= 0 {
					add(neg.m, i, neg.offset+best, 1, neg.scale, r[neg.offset+best]-hp.MaxNegSim)
				}
				continue
			}
			for k, ok := range valid[i] {
				if ok {
					add(neg.m, i, neg.offset+k, 1, neg.scale, r[neg.offset+k]-hp.MaxNegSim)
				}
			}
		}
	}
	return tp.Custom(out, func(dout []float64) {
		g := dout[0] / float64(n)
		for _, t := range active {
			t.m.Grad()[t.row*t.m.Cols+t.col] += g * t.sign * t.scale
		}
	})
}

// confidences turns similarities into the model confidence of every label.
func confidences(sims []float64, kind string) []float64 {
	out := make([]float64, len(sims))
	if len(sims) == 0 {
		return out
	}
	if kind == LinearNormConfidence {
		var sum float64
		for i, s := range sims {
			out[i] = math.Max(0, s)
			sum += out[i]
		}
		if sum > 0 {
			floats.Scale(1/sum, out)
		}
		return out
	}
	max := floats.Max(sims)
	var sum float64
	for i, s := range sims {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	floats.Scale(1/sum, out)
	return out
}

// normalizeTopK keeps the k largest confidences, zeroes the rest and renormalizes.
// k <= 0 or k >= len keeps everything.
func normalizeTopK(conf []float64, k int) []float64 {
	out := append([]float64(nil), conf...)
	if k > 0 && k < len(out) {
		idx := make([]int, len(out))
		floats.Argsort(append([]float64(nil), out...), idx)
		// idx is ascending; zero everything below the top k
		for _, i := range idx[:len(out)-k] {
			out[i] = 0
		}
	}
	if sum := floats.Sum(out); sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}

func countValid(valid []bool) int {
	var n int
	for _, ok := range valid {
		if ok {
			n++
		}
	}
	return n
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softplus is log(1 + e^x), computed stably.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}
