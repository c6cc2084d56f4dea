// Package batching reshapes a token stream into parallel lanes and slices
// them into fixed-width windows for truncated sequence training.
package batching

import (
	"fmt"
	"iter"
	"math"

	"github.com/manningwu07/charRNN/errs"
)

// Lanes is a B x cols matrix of ids. Row i is one contiguous run of the
// original stream.
type Lanes [][]int

func (l Lanes) Rows() int { return len(l) }

func (l Lanes) Cols() int {
	if len(l) == 0 {
		return 0
	}
	return len(l[0])
}

func (l Lanes) Lane(i int) []int { return l[i] }

// Window returns columns [j*S, (j+1)*S) of every lane.
func (l Lanes) Window(j, S int) Window {
	w := make(Window, len(l))
	for i, lane := range l {
		w[i] = lane[j*S : (j+1)*S : (j+1)*S]
	}
	return w
}

func (l Lanes) columns(from, to int) Lanes {
	out := make(Lanes, len(l))
	for i, lane := range l {
		out[i] = append([]int(nil), lane[from:to]...)
	}
	return out
}

// Window is a B x S slice of lanes, the unit of one forward/backward step.
type Window [][]int

func (w Window) Batch() int { return len(w) }

func (w Window) Width() int {
	if len(w) == 0 {
		return 0
	}
	return len(w[0])
}

// Column returns the ids at position t of every lane.
func (w Window) Column(t int) []int {
	out := make([]int, len(w))
	for b, row := range w {
		out[b] = row[t]
	}
	return out
}

// Flat returns the ids batch-major: entry b*S+t is lane b, position t.
func (w Window) Flat() []int {
	out := make([]int, 0, w.Batch()*w.Width())
	for _, row := range w {
		out = append(out, row...)
	}
	return out
}

// Partition is the result of Split.
type Partition struct {
	TrainX, TrainY Lanes
	ValX, ValY     Lanes

	Batch      int // B
	Window     int // S
	NumBatches int // windows per lane before the split
	SplitIndex int // windows per lane in the training partition
}

func (p *Partition) TrainWindows() int { return p.SplitIndex }

func (p *Partition) ValWindows() int { return p.NumBatches - p.SplitIndex }

// Split lays tokens out as B contiguous lanes and splits them along the
// window axis at floor(n_batches * splitFraction).
//
// Targets are always read from the real continuation of the stream, so
// n_batches = floor((len(tokens)-1) / (B*S)): a stream that is an exact
// multiple of B*S loses its last window rather than wrapping a target.
func Split(tokens []int, B, S int, splitFraction float64) (*Partition, error) {
	if B < 1 || S < 1 {
		return nil, fmt.Errorf("%w: batch %d and window %d must be positive", errs.ErrInvalidConfig, B, S)
	}
	if splitFraction < 0 || splitFraction > 1 || math.IsNaN(splitFraction) {
		return nil, fmt.Errorf("%w: split fraction %g outside [0, 1]", errs.ErrInvalidConfig, splitFraction)
	}
	per := B * S
	n := 0
	if len(tokens) > 0 {
		n = (len(tokens) - 1) / per
	}
	if n == 0 {
		return nil, &errs.InsufficientDataError{Tokens: len(tokens), Batch: B, Window: S}
	}

	laneLen := n * S
	X := make(Lanes, B)
	Y := make(Lanes, B)
	for i := 0; i < B; i++ {
		start := i * laneLen
		X[i] = append([]int(nil), tokens[start:start+laneLen]...)
		Y[i] = append([]int(nil), tokens[start+1:start+laneLen+1]...)
	}

	split := int(math.Floor(float64(n) * splitFraction))
	cut := split * S
	return &Partition{
		TrainX:     X.columns(0, cut),
		TrainY:     Y.columns(0, cut),
		ValX:       X.columns(cut, laneLen),
		ValY:       Y.columns(cut, laneLen),
		Batch:      B,
		Window:     S,
		NumBatches: n,
		SplitIndex: split,
	}, nil
}

// NumWindows is floor(cols / S).
func NumWindows(X Lanes, S int) int {
	if S < 1 {
		return 0
	}
	return X.Cols() / S
}

// Batches yields (x, y) windows left to right. Each call starts over, so
// the sequence can be ranged any number of times. Callers carrying hidden
// state must consume it in order.
func Batches(X, Y Lanes, S int) iter.Seq2[Window, Window] {
	return func(yield func(Window, Window) bool) {
		n := NumWindows(X, S)
		for j := 0; j < n; j++ {
			if !yield(X.Window(j, S), Y.Window(j, S)) {
				return
			}
		}
	}
}
