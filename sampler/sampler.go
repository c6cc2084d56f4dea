// Package sampler replays a prime through a trained model and extends it one
// symbol at a time with top-N-restricted draws.
package sampler

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/manningwu07/charRNN/IO"
	"github.com/manningwu07/charRNN/errs"
	"github.com/manningwu07/charRNN/rnn"
	"github.com/manningwu07/charRNN/utils"
)

// Sampler runs B=1, S=1 inference. Dropout is always off.
type Sampler struct {
	Model *rnn.Model
	Vocab *IO.Vocabulary
	TopN  int
	Src   rand.Source
}

func New(model *rnn.Model, vocab *IO.Vocabulary, topN int, src rand.Source) (*Sampler, error) {
	if vocab.Size() != model.Vocab {
		return nil, &errs.DimensionMismatchError{What: "vocabulary size", Want: model.Vocab, Got: vocab.Size()}
	}
	if topN < 1 || topN > vocab.Size() {
		return nil, &errs.InvalidSamplingParameterError{TopN: topN, Vocab: vocab.Size()}
	}
	if src == nil {
		src = rnn.NewSource(1)
	}
	return &Sampler{Model: model, Vocab: vocab, TopN: topN, Src: src}, nil
}

// Stream replays prime from a zero state, then calls emit for each of the
// nSamples generated symbols in order.
func (s *Sampler) Stream(prime string, nSamples int, emit func(rune)) error {
	if prime == "" {
		return fmt.Errorf("%w: prime must contain at least one symbol", errs.ErrInvalidConfig)
	}
	if nSamples < 0 {
		return fmt.Errorf("%w: n_samples %d is negative", errs.ErrInvalidConfig, nSamples)
	}
	ids, err := s.Vocab.Encode(prime)
	if err != nil {
		return fmt.Errorf("prime: %w", err)
	}

	state := s.Model.InitialState(1)
	var probs []float64
	for i, id := range ids {
		probs, state, err = s.Model.Step(id, state)
		if err != nil {
			return s.fail(err, i)
		}
	}

	for i := 0; i < nSamples; i++ {
		id, err := utils.TopN(probs, s.TopN, s.Src)
		if err != nil {
			return s.fail(err, len(ids)+i)
		}
		emit(s.Vocab.Symbol(id))
		if i == nSamples-1 {
			break
		}
		probs, state, err = s.Model.Step(id, state)
		if err != nil {
			return s.fail(err, len(ids)+i+1)
		}
	}
	return nil
}

func (s *Sampler) fail(err error, step int) error {
	if errors.Is(err, errs.ErrNonFinite) {
		return &errs.NumericDivergenceError{Quantity: "sampling distribution", Iteration: step, Err: err}
	}
	return fmt.Errorf("step %d: %w", step, err)
}

// Generate returns prime followed by nSamples generated symbols.
func (s *Sampler) Generate(prime string, nSamples int) (string, error) {
	var sb strings.Builder
	sb.WriteString(prime)
	if err := s.Stream(prime, nSamples, func(r rune) { sb.WriteRune(r) }); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func Generate(model *rnn.Model, vocab *IO.Vocabulary, prime string, nSamples, topN int, src rand.Source) (string, error) {
	s, err := New(model, vocab, topN, src)
	if err != nil {
		return "", err
	}
	return s.Generate(prime, nSamples)
}

// LoadCheckpoint reads a model and checks it against the requested
// recurrent width. With a nil vocab the mapping stored in the checkpoint is
// used; otherwise the two must agree.
func LoadCheckpoint(path string, hidden int, vocab *IO.Vocabulary) (*rnn.Model, *IO.Vocabulary, rnn.Meta, error) {
	var (
		m    *rnn.Model
		meta rnn.Meta
	)
	err := IO.ReadCheckpoint(path, func(r io.Reader) error {
		var err error
		m, meta, err = rnn.Load(r)
		return err
	})
	if err != nil {
		return nil, nil, meta, err
	}

	if vocab == nil {
		if len(meta.Symbols) == 0 {
			return nil, nil, meta, fmt.Errorf("%s carries no vocabulary; pass one explicitly", path)
		}
		if vocab, err = IO.VocabularyFromSymbols(meta.Symbols); err != nil {
			return nil, nil, meta, fmt.Errorf("%s: %w", path, err)
		}
	} else if len(meta.Symbols) == vocab.Size() {
		for i, sym := range vocab.Symbols() {
			if meta.Symbols[i] != sym {
				return nil, nil, meta, fmt.Errorf("%s: vocabulary differs at id %d (%q vs %q)", path, i, meta.Symbols[i], sym)
			}
		}
	}
	if err := m.CheckDims(vocab.Size(), hidden, len(m.Layers)); err != nil {
		return nil, nil, meta, fmt.Errorf("%s: %w", path, err)
	}
	return m, vocab, meta, nil
}

// GenerateFromCheckpoint is LoadCheckpoint followed by Generate.
func GenerateFromCheckpoint(path string, hidden int, vocab *IO.Vocabulary, prime string, nSamples, topN int, src rand.Source) (string, error) {
	m, vocab, _, err := LoadCheckpoint(path, hidden, vocab)
	if err != nil {
		return "", err
	}
	return Generate(m, vocab, prime, nSamples, topN, src)
}
