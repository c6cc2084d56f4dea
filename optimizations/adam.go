package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p) with bias correction (AdamW).
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("adamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("adamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("adamUpdateInPlace: v shape mismatch")
	}
	c1 := 1.0 / (1.0 - math.Pow(beta1, float64(t)))
	c2 := 1.0 / (1.0 - math.Pow(beta2, float64(t)))
	for i := 0; i < pr; i++ {
		prow, grow := p.RawRowView(i), g.RawRowView(i)
		mrow, vrow := m.RawRowView(i), v.RawRowView(i)
		for j := 0; j < pc; j++ {
			gij := grow[j]
			mrow[j] = beta1*mrow[j] + (1.0-beta1)*gij
			vrow[j] = beta2*vrow[j] + (1.0-beta2)*gij*gij
			mhat := mrow[j] * c1
			vhat := vrow[j] * c2
			prow[j] -= lr * (mhat/(math.Sqrt(vhat)+eps) + weightDecay*prow[j])
		}
	}
}

// Adam keeps first and second moments for a fixed list of parameters.
// Moments start at zero and are never checkpointed.
type Adam struct {
	LR, Beta1, Beta2, Eps, WeightDecay float64

	params []*mat.Dense
	m, v   []*mat.Dense
	t      int
}

func NewAdam(params []*mat.Dense, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	a := &Adam{
		LR: lr, Beta1: beta1, Beta2: beta2, Eps: eps, WeightDecay: weightDecay,
		params: params,
		m:      make([]*mat.Dense, len(params)),
		v:      make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.Dims()
		a.m[i] = mat.NewDense(r, c, nil)
		a.v[i] = mat.NewDense(r, c, nil)
	}
	return a
}

// Step applies one update. grads must line up with the params given to
// NewAdam.
func (a *Adam) Step(grads []*mat.Dense) {
	if len(grads) != len(a.params) {
		panic("adam: grads do not match params")
	}
	a.t++
	for i, p := range a.params {
		AdamUpdateInPlace(p, grads[i], a.m[i], a.v[i], a.t, a.LR, a.Beta1, a.Beta2, a.Eps, a.WeightDecay)
	}
}

func (a *Adam) Steps() int { return a.t }
