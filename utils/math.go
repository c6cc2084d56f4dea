package utils

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/manningwu07/charRNN/errs"
)

// Activations, shape-compatible with mat.Dense.Apply.

func SigmoidApply(_, _ int, x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func TanhApply(_, _ int, x float64) float64 {
	return math.Tanh(x)
}

// RowSoftmaxInPlace turns every row of logits into a distribution.
// The row max is subtracted before exponentiation.
func RowSoftmaxInPlace(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		mx := floats.Max(row)
		for j, v := range row {
			row[j] = math.Exp(v - mx)
		}
		floats.Scale(1.0/floats.Sum(row), row)
	}
}

// CrossEntropyRows returns the mean cross-entropy of probs (N x V) against
// gold ids, averaged over the N rows.
func CrossEntropyRows(probs *mat.Dense, gold []int) float64 {
	n, _ := probs.Dims()
	if n != len(gold) {
		panic("CrossEntropyRows: row/target count mismatch")
	}
	loss := 0.0
	for i, g := range gold {
		loss -= math.Log(probs.At(i, g) + 1e-12)
	}
	return loss / float64(n)
}

// CrossEntropyGrad returns d(mean CE)/d(logits) = (P - onehot(gold)) / N.
func CrossEntropyGrad(probs *mat.Dense, gold []int) *mat.Dense {
	n, _ := probs.Dims()
	grad := mat.DenseCopyOf(probs)
	for i, g := range gold {
		grad.Set(i, g, grad.At(i, g)-1.0)
	}
	grad.Scale(1.0/float64(n), grad)
	return grad
}

// TopN draws one id from probs after zeroing everything but the n largest
// entries and renormalizing the rest.
func TopN(probs []float64, n int, src rand.Source) (int, error) {
	v := len(probs)
	if n < 1 || n > v {
		return 0, &errs.InvalidSamplingParameterError{TopN: n, Vocab: v}
	}
	sorted := append([]float64(nil), probs...)
	idx := make([]int, v)
	floats.Argsort(sorted, idx) // ascending

	weights := make([]float64, v)
	total := 0.0
	for _, id := range idx[v-n:] {
		p := probs[id]
		if !IsFinite(p) || p < 0 {
			return 0, errs.ErrNonFinite
		}
		weights[id] = p
		total += p
	}
	if total <= 0 {
		// every kept entry underflowed; fall back to uniform over the kept ids
		for _, id := range idx[v-n:] {
			weights[id] = 1
		}
	}
	cat := distuv.NewCategorical(weights, src)
	return int(cat.Rand()), nil
}
