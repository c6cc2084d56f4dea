package rnn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/charRNN/utils"
)

// LSTM is one recurrent layer. Gate columns are laid out
// [input | forget | output | candidate], each H wide.
type LSTM struct {
	In, H int
	Wx    *mat.Dense // (In x 4H)
	Wh    *mat.Dense // (H x 4H)
	B     *mat.Dense // (1 x 4H)
}

func NewLSTM(in, h int, src rand.Source) *LSTM {
	l := &LSTM{
		In: in,
		H:  h,
		Wx: mat.NewDense(in, 4*h, utils.RandomArray(in*4*h, float64(in), src)),
		Wh: mat.NewDense(h, 4*h, utils.RandomArray(h*4*h, float64(h), src)),
		B:  mat.NewDense(1, 4*h, nil),
	}
	// forget gate starts open
	for j := h; j < 2*h; j++ {
		l.B.Set(0, j, 1.0)
	}
	return l
}

// stepCache keeps what the backward pass needs for one layer at one position.
type stepCache struct {
	x, hPrev, cPrev *mat.Dense
	i, f, o, g      *mat.Dense
	c, tc           *mat.Dense
	mask            *mat.Dense // nil when dropout is off
}

// Step advances one position for a batch. It returns the new (c, h) and
// the layer output, which is h with the dropout mask applied.
func (l *LSTM) Step(x, hPrev, cPrev, mask *mat.Dense) (c, h, out *mat.Dense, sc *stepCache) {
	bsz, _ := x.Dims()
	H := l.H

	z := mat.NewDense(bsz, 4*H, nil)
	z.Mul(x, l.Wx)
	var rec mat.Dense
	rec.Mul(hPrev, l.Wh)
	z.Add(z, &rec)
	utils.AddRowVector(z, l.B)

	gate := func(k int, fn func(i, j int, v float64) float64) *mat.Dense {
		g := mat.NewDense(bsz, H, nil)
		g.Apply(fn, z.Slice(0, bsz, k*H, (k+1)*H))
		return g
	}
	ig := gate(0, utils.SigmoidApply)
	fg := gate(1, utils.SigmoidApply)
	og := gate(2, utils.SigmoidApply)
	gg := gate(3, utils.TanhApply)

	c = mat.NewDense(bsz, H, nil)
	c.MulElem(fg, cPrev)
	var write mat.Dense
	write.MulElem(ig, gg)
	c.Add(c, &write)

	tc := mat.NewDense(bsz, H, nil)
	tc.Apply(utils.TanhApply, c)
	h = mat.NewDense(bsz, H, nil)
	h.MulElem(og, tc)

	out = h
	if mask != nil {
		out = mat.NewDense(bsz, H, nil)
		out.MulElem(h, mask)
	}
	sc = &stepCache{
		x: x, hPrev: hPrev, cPrev: cPrev,
		i: ig, f: fg, o: og, g: gg,
		c: c, tc: tc, mask: mask,
	}
	return c, h, out, sc
}

// lstmGrads accumulates parameter gradients over a window.
type lstmGrads struct {
	Wx, Wh, B *mat.Dense
}

func newLSTMGrads(l *LSTM) *lstmGrads {
	return &lstmGrads{
		Wx: utils.ZerosLike(l.Wx),
		Wh: utils.ZerosLike(l.Wh),
		B:  utils.ZerosLike(l.B),
	}
}

// stepBackward takes dOut (gradient w.r.t. this step's output) and the
// recurrent gradients flowing back from position t+1. It accumulates
// parameter gradients into g and returns the gradients for the previous
// (h, c) and, when wantDX is set, for the step input.
func (l *LSTM) stepBackward(sc *stepCache, dOut, dhNext, dcNext *mat.Dense, g *lstmGrads, wantDX bool) (dx, dhPrev, dcPrev *mat.Dense) {
	bsz, _ := dOut.Dims()
	H := l.H

	dh := mat.DenseCopyOf(dOut)
	if sc.mask != nil {
		dh.MulElem(dh, sc.mask)
	}
	dh.Add(dh, dhNext)

	dz := mat.NewDense(bsz, 4*H, nil)
	dcPrev = mat.NewDense(bsz, H, nil)
	for b := 0; b < bsz; b++ {
		dhr := dh.RawRowView(b)
		dcn := dcNext.RawRowView(b)
		ir, fr, or, gr := sc.i.RawRowView(b), sc.f.RawRowView(b), sc.o.RawRowView(b), sc.g.RawRowView(b)
		tcr, cpr := sc.tc.RawRowView(b), sc.cPrev.RawRowView(b)
		dzr := dz.RawRowView(b)
		dcp := dcPrev.RawRowView(b)
		for k := 0; k < H; k++ {
			dc := dhr[k]*or[k]*(1-tcr[k]*tcr[k]) + dcn[k]
			do := dhr[k] * tcr[k]
			di := dc * gr[k]
			dg := dc * ir[k]
			df := dc * cpr[k]
			dcp[k] = dc * fr[k]

			dzr[k] = di * ir[k] * (1 - ir[k])
			dzr[H+k] = df * fr[k] * (1 - fr[k])
			dzr[2*H+k] = do * or[k] * (1 - or[k])
			dzr[3*H+k] = dg * (1 - gr[k]*gr[k])
		}
	}

	var tmp mat.Dense
	tmp.Mul(sc.x.T(), dz)
	g.Wx.Add(g.Wx, &tmp)
	tmp.Reset()
	tmp.Mul(sc.hPrev.T(), dz)
	g.Wh.Add(g.Wh, &tmp)
	utils.ColSums(g.B, dz)

	dhPrev = mat.NewDense(bsz, H, nil)
	dhPrev.Mul(dz, l.Wh.T())
	if wantDX {
		dx = mat.NewDense(bsz, l.In, nil)
		dx.Mul(dz, l.Wx.T())
	}
	return dx, dhPrev, dcPrev
}
