package rnn

import (
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/manningwu07/charRNN/errs"
)

const formatVersion = 1

// Meta labels a saved model. Symbols is the vocabulary in id order, so a
// checkpoint is always decoded with the mapping it was trained with.
type Meta struct {
	Iteration int
	Epoch     int
	ValLoss   float64
	Symbols   []string
	RunID     string
	CreatedAt time.Time
}

type modelData struct {
	Version int
	Vocab   int
	Hidden  int
	Layers  int

	Names  []string
	Params [][]byte // gonum binary encoding, one per Params() entry

	Meta Meta
}

// Save writes every parameter plus meta as one gob value.
func (m *Model) Save(w io.Writer, meta Meta) error {
	data := modelData{
		Version: formatVersion,
		Vocab:   m.Vocab,
		Hidden:  m.Hidden,
		Layers:  len(m.Layers),
		Names:   m.ParamNames(),
		Meta:    meta,
	}
	for _, p := range m.Params() {
		raw, err := p.MarshalBinary()
		if err != nil {
			return err
		}
		data.Params = append(data.Params, raw)
	}
	return gob.NewEncoder(w).Encode(data)
}

// Load reconstructs a model with the dimensions recorded in r.
func Load(r io.Reader) (*Model, Meta, error) {
	var data modelData
	if err := gob.NewDecoder(r).Decode(&data); err != nil {
		return nil, Meta{}, err
	}
	if data.Version != formatVersion {
		return nil, Meta{}, fmt.Errorf("unsupported checkpoint format %d", data.Version)
	}
	if data.Vocab < 1 || data.Hidden < 1 || data.Layers < 1 {
		return nil, Meta{}, fmt.Errorf("corrupt checkpoint header: vocab=%d hidden=%d layers=%d", data.Vocab, data.Hidden, data.Layers)
	}
	if n := len(data.Meta.Symbols); n != 0 && n != data.Vocab {
		return nil, Meta{}, &errs.DimensionMismatchError{What: "checkpoint vocabulary", Want: data.Vocab, Got: n}
	}

	m := New(Config{Vocab: data.Vocab, Hidden: data.Hidden, Layers: data.Layers})
	params, names := m.Params(), m.ParamNames()
	if len(data.Params) != len(params) {
		return nil, Meta{}, &errs.DimensionMismatchError{What: "parameter count", Want: len(params), Got: len(data.Params)}
	}
	for i, p := range params {
		var loaded mat.Dense
		if err := loaded.UnmarshalBinary(data.Params[i]); err != nil {
			return nil, Meta{}, fmt.Errorf("%s: %w", names[i], err)
		}
		pr, pc := p.Dims()
		lr, lc := loaded.Dims()
		if pr != lr || pc != lc {
			return nil, Meta{}, &errs.DimensionMismatchError{What: names[i] + " elements", Want: pr * pc, Got: lr * lc}
		}
		p.Copy(&loaded)
	}
	return m, data.Meta, nil
}

// CopyParams overwrites m's parameters with src's. Both must have the same
// dimensions.
func (m *Model) CopyParams(src *Model) error {
	if err := src.CheckDims(m.Vocab, m.Hidden, len(m.Layers)); err != nil {
		return err
	}
	dst := m.Params()
	for i, p := range src.Params() {
		dst[i].Copy(p)
	}
	return nil
}
