package IO

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/manningwu07/charRNN/errs"
)

// ReadCorpus reads the whole corpus into memory.
func ReadCorpus(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("%s: %w", path, errs.ErrEmptyCorpus)
	}
	return string(raw), nil
}

func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ExportTokenStream writes ids as little-endian uint32 values.
func ExportTokenStream(ids []int, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	buf4 := make([]byte, 4)
	for _, id := range ids {
		binary.LittleEndian.PutUint32(buf4, uint32(id))
		if _, err := w.Write(buf4); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ImportTokenStream reads a file written by ExportTokenStream. Ids are
// checked against vocabSize.
func ImportTokenStream(path string, vocabSize int) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var ids []int
	buf4 := make([]byte, 4)
	for {
		if _, err := io.ReadFull(r, buf4); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%s: token %d: %w", path, len(ids), err)
		}
		id := int(binary.LittleEndian.Uint32(buf4))
		if id >= vocabSize {
			return nil, &errs.DimensionMismatchError{What: fmt.Sprintf("token %d id bound", len(ids)), Want: vocabSize - 1, Got: id}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
