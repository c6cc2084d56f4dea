package utils

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RandomArray returns size samples from U(-1/sqrt(v), 1/sqrt(v)).
// A nil src draws from the global generator.
func RandomArray(size int, v float64, src rand.Source) []float64 {
	dist := distuv.Uniform{
		Min: -1.0 / math.Sqrt(v+1e-12),
		Max: 1.0 / math.Sqrt(v+1e-12),
		Src: src,
	}
	out := make([]float64, size)
	for i := range out {
		out[i] = dist.Rand()
	}
	return out
}

// OneHotRows encodes ids as a (len(ids) x n) matrix, one row per id.
func OneHotRows(ids []int, n int) *mat.Dense {
	out := mat.NewDense(len(ids), n, nil)
	for r, id := range ids {
		if id >= 0 && id < n {
			out.Set(r, id, 1.0)
		}
	}
	return out
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// AddRowVector adds the (1 x c) bias to every row of m in place.
func AddRowVector(m, bias *mat.Dense) {
	r, c := m.Dims()
	if br, bc := bias.Dims(); br != 1 || bc != c {
		panic("AddRowVector: bias must be (1 x c)")
	}
	b := bias.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), b)
	}
}

// ColSums accumulates the column sums of m into dst (1 x c).
func ColSums(dst, m *mat.Dense) {
	r, _ := m.Dims()
	d := dst.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(d, m.RawRowView(i))
	}
}

// GlobalNorm is the L2 norm over every element of every grad.
func GlobalNorm(grads ...*mat.Dense) float64 {
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := mat.Norm(g, 2)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// ClipGrads scales all grads so their combined norm <= maxNorm.
// Returns the scale actually applied (<=1.0) or 1.0 if no clip.
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	gn := GlobalNorm(grads...)
	if gn <= maxNorm || gn == 0 {
		return 1.0
	}
	s := maxNorm / gn
	for _, g := range grads {
		if g != nil {
			g.Scale(s, g)
		}
	}
	return s
}

// AllFinite reports whether every element of m is neither NaN nor Inf.
func AllFinite(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
