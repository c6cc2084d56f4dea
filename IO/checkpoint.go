package IO

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/manningwu07/charRNN/errs"
)

const checkpointExt = ".ckpt"

var checkpointName = regexp.MustCompile(`^i(\d+)_l(\d+)_([^_]+)\.ckpt$`)

// CheckpointLabel identifies a save event.
type CheckpointLabel struct {
	Iteration int
	Width     int
	ValLoss   float64
}

// Name encodes the label as i{iteration}_l{width}_{loss:.3f}.
func (l CheckpointLabel) Name() string {
	return fmt.Sprintf("i%d_l%d_%.3f", l.Iteration, l.Width, l.ValLoss)
}

// ParseCheckpointName reverses Name for a file name with the .ckpt suffix.
func ParseCheckpointName(name string) (CheckpointLabel, bool) {
	m := checkpointName.FindStringSubmatch(name)
	if m == nil {
		return CheckpointLabel{}, false
	}
	it, err1 := strconv.Atoi(m[1])
	w, err2 := strconv.Atoi(m[2])
	loss, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return CheckpointLabel{}, false
	}
	return CheckpointLabel{Iteration: it, Width: w, ValLoss: loss}, true
}

// CheckpointStore writes immutable checkpoint files into Dir.
type CheckpointStore struct {
	Dir       string
	MaxToKeep int // 0 keeps everything
}

// Save writes one checkpoint through write. The payload goes to a temp file
// first and is linked into place, so readers never see a partial file and an
// existing checkpoint with the same name is never replaced.
func (s *CheckpointStore) Save(label CheckpointLabel, write func(io.Writer) error) (string, error) {
	path := filepath.Join(s.Dir, label.Name()+checkpointExt)
	fail := func(err error) (string, error) {
		return "", &errs.CheckpointIOError{Op: "write", Path: path, Err: err}
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".tmp-"+label.Name()+"-*")
	if err != nil {
		return fail(err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := write(w); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		return fail(err)
	}
	if s.MaxToKeep > 0 {
		if err := PruneCheckpoints(s.Dir, s.MaxToKeep); err != nil {
			return path, err
		}
		if !FileExists(path) {
			return fail(fmt.Errorf("pruned right after writing (max_to_keep %d)", s.MaxToKeep))
		}
	}
	return path, nil
}

// Latest returns the newest checkpoint in the store's directory.
func (s *CheckpointStore) Latest() (string, CheckpointLabel, error) {
	return LatestCheckpoint(s.Dir)
}

type checkpointEntry struct {
	path  string
	label CheckpointLabel
	mtime int64
}

func listCheckpoints(dir string) ([]checkpointEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []checkpointEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		label, ok := ParseCheckpointName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, checkpointEntry{
			path:  filepath.Join(dir, e.Name()),
			label: label,
			mtime: info.ModTime().UnixNano(),
		})
	}
	// newest first: latest write, then highest iteration
	sort.Slice(out, func(i, j int) bool {
		if out[i].mtime != out[j].mtime {
			return out[i].mtime > out[j].mtime
		}
		return out[i].label.Iteration > out[j].label.Iteration
	})
	return out, nil
}

// LatestCheckpoint finds the most recently written checkpoint in dir. Files
// written at the same instant are ranked by iteration.
func LatestCheckpoint(dir string) (string, CheckpointLabel, error) {
	list, err := listCheckpoints(dir)
	if err != nil {
		return "", CheckpointLabel{}, &errs.CheckpointIOError{Op: "read", Path: dir, Err: err}
	}
	if len(list) == 0 {
		return "", CheckpointLabel{}, &errs.CheckpointIOError{Op: "read", Path: dir, Err: errs.ErrNoCheckpoint}
	}
	return list[0].path, list[0].label, nil
}

// PruneCheckpoints deletes all but the keep most recently written
// checkpoints in dir.
func PruneCheckpoints(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	list, err := listCheckpoints(dir)
	if err != nil {
		return &errs.CheckpointIOError{Op: "write", Path: dir, Err: err}
	}
	for _, e := range list[min(keep, len(list)):] {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return &errs.CheckpointIOError{Op: "write", Path: e.path, Err: err}
		}
	}
	return nil
}

// ReadCheckpoint opens path and hands it to read. Any failure is a
// CheckpointIOError.
func ReadCheckpoint(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return &errs.CheckpointIOError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()
	if err := read(bufio.NewReader(f)); err != nil {
		return &errs.CheckpointIOError{Op: "read", Path: path, Err: err}
	}
	return nil
}
