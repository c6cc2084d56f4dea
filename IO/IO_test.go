package IO

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/manningwu07/charRNN/errs"
)

func TestVocabularyRoundTrip(t *testing.T) {
	corpus := "Happy families are all alike; every unhappy family is unhappy in its own way.\nÄö"
	v, err := BuildVocabulary(corpus)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range corpus {
		id, ok := v.ID(r)
		if !ok {
			t.Fatalf("symbol %q missing", r)
		}
		if id < 0 || id >= v.Size() {
			t.Fatalf("id %d out of range", id)
		}
		if v.Symbol(id) != r {
			t.Fatalf("round trip failed for %q", r)
		}
	}
	ids, err := v.Encode(corpus)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := v.Decode(ids); err != nil || got != corpus {
		t.Fatalf("decode mismatch: %q %v", got, err)
	}
}

func TestBuildVocabularySortedIDs(t *testing.T) {
	v, err := BuildVocabulary("cabcab")
	if err != nil {
		t.Fatal(err)
	}
	for want, r := range []rune{'a', 'b', 'c'} {
		if id, _ := v.ID(r); id != want {
			t.Errorf("%q: want id %d, got %d", r, want, id)
		}
	}
}

func TestBuildVocabularyEmpty(t *testing.T) {
	if _, err := BuildVocabulary(""); !errors.Is(err, errs.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestDecodeOutOfRangeID(t *testing.T) {
	v, _ := BuildVocabulary("abc")
	for _, id := range []int{-1, 3} {
		if out, err := v.Decode([]int{0, id, 1}); err == nil {
			t.Fatalf("id %d decoded to %q without error", id, out)
		}
	}
}

func TestEncodeUnknownSymbol(t *testing.T) {
	v, _ := BuildVocabulary("abc")
	if _, err := v.Encode("abz"); err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}

func TestVocabJSONRoundTrip(t *testing.T) {
	v, _ := BuildVocabulary("hello, world\n")
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := ExportVocabJSON(v, path); err != nil {
		t.Fatal(err)
	}
	got, err := ImportVocabJSON(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got.Symbols(), "") != strings.Join(v.Symbols(), "") {
		t.Fatalf("symbols differ: %q vs %q", got.Symbols(), v.Symbols())
	}
}

func TestTokenStreamRoundTrip(t *testing.T) {
	ids := []int{0, 3, 2, 1, 3, 0}
	path := filepath.Join(t.TempDir(), "ids.bin")
	if err := ExportTokenStream(ids, path); err != nil {
		t.Fatal(err)
	}
	got, err := ImportTokenStream(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(ids) {
		t.Fatalf("len %d, want %d", len(got), len(ids))
	}
	for i := range ids {
		if got[i] != ids[i] {
			t.Fatalf("id %d: got %d want %d", i, got[i], ids[i])
		}
	}
	var dm *errs.DimensionMismatchError
	if _, err := ImportTokenStream(path, 3); !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError for a smaller vocab, got %v", err)
	}
}

func TestCheckpointName(t *testing.T) {
	name := CheckpointLabel{Iteration: 200, Width: 512, ValLoss: 2.4321}.Name()
	if name != "i200_l512_2.432" {
		t.Fatalf("unexpected name %q", name)
	}
	for _, part := range []string{"200", "512", "2.432"} {
		if !strings.Contains(name, part) {
			t.Errorf("name %q lacks %q", name, part)
		}
	}
	label, ok := ParseCheckpointName(name + ".ckpt")
	if !ok || label.Iteration != 200 || label.Width != 512 || label.ValLoss != 2.432 {
		t.Fatalf("parse failed: %+v %v", label, ok)
	}
	if _, ok := ParseCheckpointName("notes.txt"); ok {
		t.Fatal("unrelated file parsed as checkpoint")
	}
}

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func TestCheckpointStoreLatestAndPrune(t *testing.T) {
	dir := t.TempDir()
	store := &CheckpointStore{Dir: dir, MaxToKeep: 2}
	for _, it := range []int{200, 400, 600} {
		if _, err := store.Save(CheckpointLabel{Iteration: it, Width: 8, ValLoss: 1.5}, writeString("x")); err != nil {
			t.Fatal(err)
		}
	}
	path, label, err := store.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if label.Iteration != 600 || filepath.Base(path) != "i600_l8_1.500.ckpt" {
		t.Fatalf("latest = %s %+v", path, label)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 retained checkpoints, got %d", len(entries))
	}
	if FileExists(filepath.Join(dir, "i200_l8_1.500.ckpt")) {
		t.Fatal("oldest checkpoint should have been pruned")
	}
}

// Checkpoints left by an earlier, longer run must not push out the ones the
// current run is writing.
func TestPruneKeepsRecentWritesOverHigherIterations(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "i9999_l8_1.000.ckpt")
	if err := os.WriteFile(stale, []byte("old run"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	os.Chtimes(stale, old, old)

	store := &CheckpointStore{Dir: dir, MaxToKeep: 1}
	path, err := store.Save(CheckpointLabel{Iteration: 10, Width: 8, ValLoss: 0.368}, writeString("new run"))
	if err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Fatalf("saved checkpoint %s is missing", path)
	}
	if FileExists(stale) {
		t.Fatal("stale checkpoint should have been pruned")
	}
	latest, label, err := store.Latest()
	if err != nil || latest != path || label.Iteration != 10 {
		t.Fatalf("latest = %s %+v %v", latest, label, err)
	}
}

func TestSaveReportsCheckpointPrunedImmediately(t *testing.T) {
	dir := t.TempDir()
	future := filepath.Join(dir, "i5_l8_1.000.ckpt")
	os.WriteFile(future, []byte("x"), 0o644)
	later := time.Now().Add(time.Hour)
	os.Chtimes(future, later, later)

	store := &CheckpointStore{Dir: dir, MaxToKeep: 1}
	path, err := store.Save(CheckpointLabel{Iteration: 10, Width: 8, ValLoss: 1}, writeString("y"))
	var ce *errs.CheckpointIOError
	if !errors.As(err, &ce) || ce.Op != "write" {
		t.Fatalf("expected write CheckpointIOError, got %v", err)
	}
	if path != "" {
		t.Fatalf("a pruned checkpoint was reported as saved: %s", path)
	}
}

func TestSaveRefusesOverwrite(t *testing.T) {
	store := &CheckpointStore{Dir: t.TempDir()}
	label := CheckpointLabel{Iteration: 10, Width: 8, ValLoss: 0.368}
	path, err := store.Save(label, writeString("first"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = store.Save(label, writeString("second"))
	var ce *errs.CheckpointIOError
	if !errors.As(err, &ce) || !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected ErrExist CheckpointIOError, got %v", err)
	}
	raw, _ := os.ReadFile(path)
	if string(raw) != "first" {
		t.Fatalf("checkpoint was rewritten: %q", raw)
	}
	entries, _ := os.ReadDir(store.Dir)
	if len(entries) != 1 {
		t.Fatalf("refused save left %d files behind", len(entries))
	}
}

func TestLatestCheckpointTieBreaksOnModTime(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "i10_l4_2.000.ckpt")
	b := filepath.Join(dir, "i10_l4_1.000.ckpt")
	os.WriteFile(a, []byte("a"), 0o644)
	os.WriteFile(b, []byte("b"), 0o644)
	old := time.Now().Add(-time.Hour)
	os.Chtimes(a, old, old)
	path, _, err := LatestCheckpoint(dir)
	if err != nil {
		t.Fatal(err)
	}
	if path != b {
		t.Fatalf("expected %s, got %s", b, path)
	}
}

func TestLatestCheckpointEmptyDir(t *testing.T) {
	_, _, err := LatestCheckpoint(t.TempDir())
	if !errors.Is(err, errs.ErrNoCheckpoint) {
		t.Fatalf("expected ErrNoCheckpoint, got %v", err)
	}
	var ce *errs.CheckpointIOError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CheckpointIOError, got %T", err)
	}
}

func TestReadCheckpointMissingFile(t *testing.T) {
	err := ReadCheckpoint(filepath.Join(t.TempDir(), "nope.ckpt"), func(io.Reader) error { return nil })
	var ce *errs.CheckpointIOError
	if !errors.As(err, &ce) || ce.Op != "read" {
		t.Fatalf("expected read CheckpointIOError, got %v", err)
	}
}

func TestSaveFailureIsCheckpointIOError(t *testing.T) {
	store := &CheckpointStore{Dir: t.TempDir()}
	boom := errors.New("disk full")
	_, err := store.Save(CheckpointLabel{Iteration: 1, Width: 1}, func(io.Writer) error { return boom })
	var ce *errs.CheckpointIOError
	if !errors.As(err, &ce) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
	entries, _ := os.ReadDir(store.Dir)
	if len(entries) != 0 {
		t.Fatalf("failed save left %d files behind", len(entries))
	}
}
