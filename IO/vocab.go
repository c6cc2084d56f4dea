package IO

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/manningwu07/charRNN/errs"
)

// Vocabulary is the bijection between corpus symbols and dense ids.
// It is never mutated after construction.
type Vocabulary struct {
	symbolToID map[rune]int
	idToSymbol []rune
}

// BuildVocabulary collects the distinct runes of corpus. Runes are sorted
// before ids are assigned, so rebuilding from the same corpus gives the same
// ids; the mapping is still persisted alongside every model.
func BuildVocabulary(corpus string) (*Vocabulary, error) {
	set := make(map[rune]struct{})
	for _, r := range corpus {
		set[r] = struct{}{}
	}
	if len(set) == 0 {
		return nil, errs.ErrEmptyCorpus
	}
	runes := make([]rune, 0, len(set))
	for r := range set {
		runes = append(runes, r)
	}
	slices.Sort(runes)
	return vocabularyFromSymbols(runes)
}

// VocabularyFromSymbols rebuilds a vocabulary from its id order, e.g. from a
// checkpoint.
func VocabularyFromSymbols(symbols []string) (*Vocabulary, error) {
	runes := make([]rune, 0, len(symbols))
	for _, s := range symbols {
		r := []rune(s)
		if len(r) != 1 {
			return nil, fmt.Errorf("invalid vocab symbol %q: expected one rune", s)
		}
		runes = append(runes, r[0])
	}
	if len(runes) == 0 {
		return nil, errs.ErrEmptyCorpus
	}
	return vocabularyFromSymbols(runes)
}

func vocabularyFromSymbols(runes []rune) (*Vocabulary, error) {
	v := &Vocabulary{
		symbolToID: make(map[rune]int, len(runes)),
		idToSymbol: runes,
	}
	for id, r := range runes {
		if _, dup := v.symbolToID[r]; dup {
			return nil, fmt.Errorf("duplicate vocab symbol %q", r)
		}
		v.symbolToID[r] = id
	}
	return v, nil
}

func (v *Vocabulary) Size() int { return len(v.idToSymbol) }

func (v *Vocabulary) ID(r rune) (int, bool) {
	id, ok := v.symbolToID[r]
	return id, ok
}

func (v *Vocabulary) Symbol(id int) rune { return v.idToSymbol[id] }

// Symbols returns the vocabulary in id order, one string per symbol.
func (v *Vocabulary) Symbols() []string {
	out := make([]string, len(v.idToSymbol))
	for i, r := range v.idToSymbol {
		out[i] = string(r)
	}
	return out
}

// Encode maps text to ids. A symbol outside the vocabulary is an error.
func (v *Vocabulary) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	pos := 0
	for _, r := range text {
		id, ok := v.symbolToID[r]
		if !ok {
			return nil, fmt.Errorf("symbol %q at position %d is not in the vocabulary", r, pos)
		}
		ids = append(ids, id)
		pos++
	}
	return ids, nil
}

// Decode maps ids back to text. An id outside the vocabulary is an error.
func (v *Vocabulary) Decode(ids []int) (string, error) {
	var b strings.Builder
	b.Grow(len(ids))
	for pos, id := range ids {
		if id < 0 || id >= len(v.idToSymbol) {
			return "", fmt.Errorf("id %d at position %d is outside the vocabulary of %d symbols", id, pos, len(v.idToSymbol))
		}
		b.WriteRune(v.idToSymbol[id])
	}
	return b.String(), nil
}

type vocabFile struct {
	TokenToID map[string]int `json:"TokenToID"`
	IDToToken []string       `json:"IDToToken"`
}

// ExportVocabJSON writes TokenToID/IDToToken so later runs reuse the exact
// mapping instead of rederiving it.
func ExportVocabJSON(v *Vocabulary, path string) error {
	data := vocabFile{
		TokenToID: make(map[string]int, v.Size()),
		IDToToken: v.Symbols(),
	}
	for id, s := range data.IDToToken {
		data.TokenToID[s] = id
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// ImportVocabJSON loads a vocabulary written by ExportVocabJSON.
func ImportVocabJSON(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var data vocabFile
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	v, err := VocabularyFromSymbols(data.IDToToken)
	if err != nil {
		return nil, err
	}
	for s, id := range data.TokenToID {
		if id < 0 || id >= v.Size() || string(v.idToSymbol[id]) != s {
			return nil, fmt.Errorf("vocab %s: TokenToID[%q]=%d disagrees with IDToToken", path, s, id)
		}
	}
	return v, nil
}
