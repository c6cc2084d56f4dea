// Package rnn implements the stacked LSTM character model: forward over a
// window with carried state, softmax projection, and truncated BPTT.
package rnn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/charRNN/batching"
	"github.com/manningwu07/charRNN/errs"
	"github.com/manningwu07/charRNN/utils"
)

type Config struct {
	Vocab  int // V
	Hidden int // H
	Layers int
	Seed   uint64
}

type Model struct {
	Vocab  int
	Hidden int
	Layers []*LSTM

	// softmax projection
	W    *mat.Dense // (H x V)
	Bias *mat.Dense // (1 x V)
}

// NewSource returns the seeded generator used for weight init and dropout.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

func New(cfg Config) *Model {
	src := NewSource(cfg.Seed)
	m := &Model{
		Vocab:  cfg.Vocab,
		Hidden: cfg.Hidden,
		Layers: make([]*LSTM, cfg.Layers),
	}
	in := cfg.Vocab
	for l := range m.Layers {
		m.Layers[l] = NewLSTM(in, cfg.Hidden, src)
		in = cfg.Hidden
	}
	m.W = mat.NewDense(cfg.Hidden, cfg.Vocab, utils.RandomArray(cfg.Hidden*cfg.Vocab, float64(cfg.Hidden), src))
	m.Bias = mat.NewDense(1, cfg.Vocab, nil)
	return m
}

// LayerState is the recurrent state of one layer, each (B x H).
type LayerState struct {
	C, H *mat.Dense
}

// State is the per-layer state carried from one window to the next.
type State []LayerState

func (s State) Batch() int {
	if len(s) == 0 {
		return 0
	}
	r, _ := s[0].H.Dims()
	return r
}

// InitialState is the zero state for a batch of width b.
func (m *Model) InitialState(b int) State {
	s := make(State, len(m.Layers))
	for l := range s {
		s[l] = LayerState{
			C: mat.NewDense(b, m.Hidden, nil),
			H: mat.NewDense(b, m.Hidden, nil),
		}
	}
	return s
}

// Cache holds the activations of one Forward call for Backward.
type Cache struct {
	steps  [][]*stepCache // [layer][position]
	top    *mat.Dense     // (B*S x H), row b*S+t
	probs  *mat.Dense
	batch  int
	window int
}

// Forward runs window x (B x S ids) from state. Each layer is stepped
// position by position; the top layer outputs are stacked batch-major
// (row b*S+t), projected to V logits and normalized.
//
// Dropout keeps each layer output unit with probability keepProb; the
// carried state is never dropped. keepProb == 1 disables dropout.
// The input state is not modified.
func (m *Model) Forward(x batching.Window, state State, keepProb float64, src rand.Source) (*mat.Dense, State, *Cache, error) {
	B, S := x.Batch(), x.Width()
	if B == 0 || S == 0 {
		return nil, nil, nil, &errs.DimensionMismatchError{What: "window positions", Want: 1, Got: B * S}
	}
	if len(state) != len(m.Layers) {
		return nil, nil, nil, &errs.DimensionMismatchError{What: "state layers", Want: len(m.Layers), Got: len(state)}
	}
	if state.Batch() != B {
		return nil, nil, nil, &errs.DimensionMismatchError{What: "state batch", Want: B, Got: state.Batch()}
	}
	for b, row := range x {
		if len(row) != S {
			return nil, nil, nil, &errs.DimensionMismatchError{What: fmt.Sprintf("window lane %d width", b), Want: S, Got: len(row)}
		}
		for _, id := range row {
			if id < 0 || id >= m.Vocab {
				return nil, nil, nil, &errs.DimensionMismatchError{What: "input id bound", Want: m.Vocab - 1, Got: id}
			}
		}
	}

	next := make(State, len(state))
	copy(next, state)
	cache := &Cache{
		steps:  make([][]*stepCache, len(m.Layers)),
		top:    mat.NewDense(B*S, m.Hidden, nil),
		batch:  B,
		window: S,
	}
	for l := range cache.steps {
		cache.steps[l] = make([]*stepCache, S)
	}

	for t := 0; t < S; t++ {
		in := utils.OneHotRows(x.Column(t), m.Vocab) // (B x V)
		for l, layer := range m.Layers {
			mask := dropoutMask(B, m.Hidden, keepProb, src)
			c, h, out, sc := layer.Step(in, next[l].H, next[l].C, mask)
			next[l] = LayerState{C: c, H: h}
			cache.steps[l][t] = sc
			in = out
		}
		for b := 0; b < B; b++ {
			cache.top.SetRow(b*S+t, in.RawRowView(b))
		}
	}

	probs := mat.NewDense(B*S, m.Vocab, nil)
	probs.Mul(cache.top, m.W)
	utils.AddRowVector(probs, m.Bias)
	utils.RowSoftmaxInPlace(probs)
	if !utils.AllFinite(probs) {
		return nil, nil, nil, fmt.Errorf("softmax output: %w", errs.ErrNonFinite)
	}
	cache.probs = probs
	return probs, next, cache, nil
}

// Step feeds one id through a single-lane model and returns the next-symbol
// distribution. Dropout is off.
func (m *Model) Step(id int, state State) ([]float64, State, error) {
	probs, next, _, err := m.Forward(batching.Window{{id}}, state, 1, nil)
	if err != nil {
		return nil, nil, err
	}
	return probs.RawRowView(0), next, nil
}

// Loss is the cross-entropy of probs against y, averaged over all B*S
// positions so its scale does not depend on the batch shape.
func (m *Model) Loss(probs *mat.Dense, y batching.Window) (float64, error) {
	gold := y.Flat()
	if r, _ := probs.Dims(); r != len(gold) {
		return 0, &errs.DimensionMismatchError{What: "target positions", Want: r, Got: len(gold)}
	}
	loss := utils.CrossEntropyRows(probs, gold)
	if !utils.IsFinite(loss) {
		return loss, fmt.Errorf("loss: %w", errs.ErrNonFinite)
	}
	return loss, nil
}

// Grads mirrors the model parameters.
type Grads struct {
	Layers []*lstmGrads
	W      *mat.Dense
	Bias   *mat.Dense
}

// All lists the gradients in the same order as Model.Params.
func (g *Grads) All() []*mat.Dense {
	out := make([]*mat.Dense, 0, 3*len(g.Layers)+2)
	for _, lg := range g.Layers {
		out = append(out, lg.Wx, lg.Wh, lg.B)
	}
	return append(out, g.W, g.Bias)
}

// Params lists every learned matrix.
func (m *Model) Params() []*mat.Dense {
	out := make([]*mat.Dense, 0, 3*len(m.Layers)+2)
	for _, l := range m.Layers {
		out = append(out, l.Wx, l.Wh, l.B)
	}
	return append(out, m.W, m.Bias)
}

// ParamNames matches Params, used in logs and checkpoints.
func (m *Model) ParamNames() []string {
	out := make([]string, 0, 3*len(m.Layers)+2)
	for l := range m.Layers {
		out = append(out, fmt.Sprintf("lstm%d/Wx", l), fmt.Sprintf("lstm%d/Wh", l), fmt.Sprintf("lstm%d/b", l))
	}
	return append(out, "softmax/W", "softmax/b")
}

// Backward returns the gradient of the mean window loss w.r.t. every
// parameter. Gradients stop at the window's incoming state.
func (m *Model) Backward(cache *Cache, y batching.Window) (*Grads, error) {
	B, S := cache.batch, cache.window
	if y.Batch() != B || y.Width() != S {
		return nil, &errs.DimensionMismatchError{What: "target window size", Want: B * S, Got: y.Batch() * y.Width()}
	}
	gold := y.Flat()
	dLogits := utils.CrossEntropyGrad(cache.probs, gold) // (B*S x V)

	g := &Grads{
		Layers: make([]*lstmGrads, len(m.Layers)),
		W:      mat.NewDense(m.Hidden, m.Vocab, nil),
		Bias:   mat.NewDense(1, m.Vocab, nil),
	}
	for l, layer := range m.Layers {
		g.Layers[l] = newLSTMGrads(layer)
	}
	g.W.Mul(cache.top.T(), dLogits)
	utils.ColSums(g.Bias, dLogits)

	dTop := mat.NewDense(B*S, m.Hidden, nil)
	dTop.Mul(dLogits, m.W.T())

	// dOut[t] is the gradient w.r.t. the current layer's output at t.
	dOut := make([]*mat.Dense, S)
	for t := 0; t < S; t++ {
		d := mat.NewDense(B, m.Hidden, nil)
		for b := 0; b < B; b++ {
			d.SetRow(b, dTop.RawRowView(b*S+t))
		}
		dOut[t] = d
	}

	for l := len(m.Layers) - 1; l >= 0; l-- {
		layer := m.Layers[l]
		dhNext := mat.NewDense(B, m.Hidden, nil)
		dcNext := mat.NewDense(B, m.Hidden, nil)
		below := make([]*mat.Dense, S)
		for t := S - 1; t >= 0; t-- {
			dx, dh, dc := layer.stepBackward(cache.steps[l][t], dOut[t], dhNext, dcNext, g.Layers[l], l > 0)
			dhNext, dcNext = dh, dc
			below[t] = dx
		}
		dOut = below
	}

	for _, d := range g.All() {
		if !utils.AllFinite(d) {
			return nil, fmt.Errorf("gradient: %w", errs.ErrNonFinite)
		}
	}
	return g, nil
}

// CheckDims reports the first dimension that differs from the requested
// vocabulary size, recurrent width and depth.
func (m *Model) CheckDims(vocab, hidden, layers int) error {
	switch {
	case m.Hidden != hidden:
		return &errs.DimensionMismatchError{What: "recurrent width", Want: hidden, Got: m.Hidden}
	case m.Vocab != vocab:
		return &errs.DimensionMismatchError{What: "vocabulary size", Want: vocab, Got: m.Vocab}
	case layers > 0 && len(m.Layers) != layers:
		return &errs.DimensionMismatchError{What: "layers", Want: layers, Got: len(m.Layers)}
	}
	return nil
}
