package train

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/manningwu07/charRNN/IO"
	"github.com/manningwu07/charRNN/batching"
	"github.com/manningwu07/charRNN/errs"
	"github.com/manningwu07/charRNN/optimizations"
	"github.com/manningwu07/charRNN/params"
	"github.com/manningwu07/charRNN/rnn"
	"github.com/manningwu07/charRNN/utils"
)

// ValPoint is one periodic validation result.
type ValPoint struct {
	Iteration int
	Loss      float64
	Saved     string // checkpoint path, empty when the save failed
}

type Result struct {
	StartIteration int
	Iterations     int // global iteration reached
	FirstLoss      float64
	FinalTrainLoss float64
	Validations    []ValPoint
	Checkpoints    []string
	FailedSaves    int
	LogErr         error // first failure writing the CSV log, if any
}

// Trainer runs truncated sequence training over a Partition. It is not safe
// for concurrent use: windows are consumed strictly in order.
type Trainer struct {
	Model  *rnn.Model
	Vocab  *IO.Vocabulary
	Data   *batching.Partition
	Config params.TrainingConfig
	Store  *IO.CheckpointStore // nil disables checkpoints
	Out    io.Writer
	RunID  string

	opt *optimizations.Adam
	src rand.Source
}

func New(model *rnn.Model, vocab *IO.Vocabulary, data *batching.Partition, cfg params.TrainingConfig, store *IO.CheckpointStore, out io.Writer) *Trainer {
	if out == nil {
		out = io.Discard
	}
	return &Trainer{
		Model:  model,
		Vocab:  vocab,
		Data:   data,
		Config: cfg,
		Store:  store,
		Out:    out,
		RunID:  uuid.NewString(),
		opt: optimizations.NewAdam(model.Params(), cfg.LearningRate,
			cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps, cfg.WeightDecay),
		src: rnn.NewSource(cfg.Seed + 1),
	}
}

// Train runs cfg.Epochs epochs. Hidden state is zeroed at the start of each
// epoch and carried from window to window inside it. ctx is checked between
// batches only.
func (t *Trainer) Train(ctx context.Context) (*Result, error) {
	cfg := t.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	perEpoch := t.Data.TrainWindows()
	if perEpoch == 0 {
		return nil, fmt.Errorf("%w: split_fraction %g leaves no training windows (n_batches=%d)",
			errs.ErrInvalidConfig, cfg.SplitFraction, t.Data.NumBatches)
	}

	res := &Result{}
	if cfg.Resume {
		if err := t.resume(res); err != nil {
			return nil, err
		}
	}
	counter := res.StartIteration
	final := counter + cfg.Epochs*perEpoch

	log := t.openLog(res)
	defer log.close()

	fmt.Fprintf(t.Out, "Training %d epochs x %d windows (batch %dx%d, val windows %d, run %s)\n",
		cfg.Epochs, perEpoch, t.Data.Batch, t.Data.Window, t.Data.ValWindows(), t.RunID)

	for e := 0; e < cfg.Epochs; e++ {
		state := t.Model.InitialState(t.Data.Batch)
		epochLoss, epochN := 0.0, 0

		batch := 0
		for x, y := range batching.Batches(t.Data.TrainX, t.Data.TrainY, t.Data.Window) {
			if err := ctx.Err(); err != nil {
				res.Iterations = counter
				return res, fmt.Errorf("stopped at iteration %d (epoch %d, batch %d): %w", counter, e+1, batch, err)
			}
			counter++
			start := time.Now()

			loss, next, err := t.step(x, y, state)
			if err != nil {
				res.Iterations = counter
				return res, t.fail(err, e+1, counter, batch)
			}
			state = next
			if counter == res.StartIteration+1 {
				res.FirstLoss = loss
			}
			epochLoss += loss
			epochN++
			res.FinalTrainLoss = loss
			elapsed := time.Since(start)

			if cfg.PrintEveryBatch {
				fmt.Fprintf(t.Out, "Epoch: %d/%d...  Training Step: %d...  Training loss: %.4f...  %.4f sec/batch\n",
					e+1, cfg.Epochs, counter, loss, elapsed.Seconds())
			}

			val := ""
			if counter%cfg.SaveEveryN == 0 || counter == final {
				vp, err := t.checkpoint(counter, e+1, epochLoss/float64(epochN), res)
				if err != nil {
					res.Iterations = counter
					return res, err
				}
				val = strconv.FormatFloat(vp.Loss, 'f', 4, 64)
			}
			log.write(
				strconv.Itoa(counter), strconv.Itoa(e+1),
				strconv.FormatFloat(loss, 'f', 4, 64), val,
				strconv.FormatFloat(elapsed.Seconds(), 'f', 4, 64),
			)
			batch++
		}
		fmt.Fprintf(t.Out, "Epoch %d - mean training loss: %.4f\n", e+1, epochLoss/float64(epochN))
	}
	res.Iterations = counter
	return res, nil
}

// step is one FeedForward, ComputeLoss, BackwardUpdate cycle.
func (t *Trainer) step(x, y batching.Window, state rnn.State) (float64, rnn.State, error) {
	probs, next, cache, err := t.Model.Forward(x, state, t.Config.KeepProb, t.src)
	if err != nil {
		return 0, nil, fmt.Errorf("forward: %w", err)
	}
	loss, err := t.Model.Loss(probs, y)
	if err != nil {
		return loss, nil, err
	}
	grads, err := t.Model.Backward(cache, y)
	if err != nil {
		return loss, nil, err
	}
	all := grads.All()
	if norm := utils.GlobalNorm(all...); !utils.IsFinite(norm) {
		return loss, nil, fmt.Errorf("gradient norm %g: %w", norm, errs.ErrNonFinite)
	}
	utils.ClipGrads(t.Config.GradClip, all...)
	t.opt.Step(all)
	return loss, next, nil
}

// fail attaches the epoch/iteration/batch to a fatal step error.
func (t *Trainer) fail(err error, epoch, iteration, batch int) error {
	if errors.Is(err, errs.ErrNonFinite) {
		return &errs.NumericDivergenceError{
			Quantity: "training step", Epoch: epoch, Iteration: iteration, Batch: batch, Err: err,
		}
	}
	return fmt.Errorf("epoch %d, iteration %d, batch %d: %w", epoch, iteration, batch, err)
}

// Validate runs the whole validation partition from a zero state with
// dropout off and returns the mean window loss. ok is false when the
// partition is empty. Parameters are only read.
func (t *Trainer) Validate() (loss float64, ok bool, err error) {
	n := batching.NumWindows(t.Data.ValX, t.Data.Window)
	if n == 0 {
		return math.NaN(), false, nil
	}
	state := t.Model.InitialState(t.Data.Batch)
	sum := 0.0
	batch := 0
	for x, y := range batching.Batches(t.Data.ValX, t.Data.ValY, t.Data.Window) {
		probs, next, _, err := t.Model.Forward(x, state, 1, nil)
		if err == nil {
			var l float64
			l, err = t.Model.Loss(probs, y)
			sum += l
		}
		if err != nil {
			return 0, false, fmt.Errorf("validation batch %d: %w", batch, err)
		}
		state = next
		batch++
	}
	return sum / float64(n), true, nil
}

// checkpoint validates and writes a checkpoint. Only a diverged validation
// is returned as an error; save failures are reported and counted.
func (t *Trainer) checkpoint(iteration, epoch int, epochTrainLoss float64, res *Result) (ValPoint, error) {
	loss, ok, err := t.Validate()
	if err != nil {
		if errors.Is(err, errs.ErrNonFinite) {
			return ValPoint{}, &errs.NumericDivergenceError{Quantity: "validation", Epoch: epoch, Iteration: iteration, Err: err}
		}
		return ValPoint{}, fmt.Errorf("iteration %d: %w", iteration, err)
	}
	if ok {
		fmt.Fprintf(t.Out, "Validation loss: %.4f (iteration %d)\n", loss, iteration)
	} else {
		loss = epochTrainLoss
		fmt.Fprintf(t.Out, "No validation windows; labelling iteration %d with training loss %.4f\n", iteration, loss)
	}
	vp := ValPoint{Iteration: iteration, Loss: loss}

	if t.Store != nil {
		label := IO.CheckpointLabel{Iteration: iteration, Width: t.Model.Hidden, ValLoss: loss}
		meta := rnn.Meta{
			Iteration: iteration,
			Epoch:     epoch,
			ValLoss:   loss,
			RunID:     t.RunID,
			CreatedAt: time.Now().UTC(),
		}
		if t.Vocab != nil {
			meta.Symbols = t.Vocab.Symbols()
		}
		path, err := t.Store.Save(label, func(w io.Writer) error { return t.Model.Save(w, meta) })
		if err != nil {
			res.FailedSaves++
			fmt.Fprintf(t.Out, "⚠️ checkpoint save failed at iteration %d: %v\n", iteration, err)
		}
		if path != "" {
			vp.Saved = path
			res.Checkpoints = append(res.Checkpoints, path)
			fmt.Fprintf(t.Out, "✅ Saved %s\n", path)
		}
	}
	res.Validations = append(res.Validations, vp)
	return vp, nil
}

// resume copies the parameters of the latest checkpoint into the model.
// Hidden state and optimizer moments still start from zero.
func (t *Trainer) resume(res *Result) error {
	if t.Store == nil {
		return fmt.Errorf("%w: resume needs a checkpoint directory", errs.ErrInvalidConfig)
	}
	path, label, err := t.Store.Latest()
	if errors.Is(err, errs.ErrNoCheckpoint) || errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(t.Out, "No checkpoint in %s, starting from scratch\n", t.Store.Dir)
		return nil
	}
	if err != nil {
		return err
	}
	var loaded *rnn.Model
	var meta rnn.Meta
	err = IO.ReadCheckpoint(path, func(r io.Reader) error {
		var err error
		loaded, meta, err = rnn.Load(r)
		return err
	})
	if err != nil {
		return err
	}
	if err := t.Model.CopyParams(loaded); err != nil {
		return fmt.Errorf("resume from %s: %w", path, err)
	}
	if t.Vocab != nil && len(meta.Symbols) > 0 {
		for i, s := range t.Vocab.Symbols() {
			if meta.Symbols[i] != s {
				return fmt.Errorf("resume from %s: vocabulary differs at id %d (%q vs %q)", path, i, meta.Symbols[i], s)
			}
		}
	}
	res.StartIteration = label.Iteration
	fmt.Fprintf(t.Out, "⚡ Resumed from %s (iteration %d)\n", path, label.Iteration)
	return nil
}

// csvLog is the optional per-iteration training log. The first error
// disables it; the error is reported and kept in Result.LogErr.
type csvLog struct {
	w   *csv.Writer
	f   *os.File
	out io.Writer
	res *Result
}

func (t *Trainer) openLog(res *Result) *csvLog {
	l := &csvLog{out: t.Out, res: res}
	if t.Config.LogCSV == "" {
		return l
	}
	f, err := os.Create(t.Config.LogCSV)
	if err != nil {
		l.fail(err)
		return l
	}
	l.f, l.w = f, csv.NewWriter(f)
	l.write("iteration", "epoch", "train_loss", "val_loss", "seconds")
	return l
}

func (l *csvLog) fail(err error) {
	if l.res.LogErr == nil {
		l.res.LogErr = err
		fmt.Fprintf(l.out, "⚠️ training log write failed: %v\n", err)
	}
	if l.f != nil {
		l.f.Close()
	}
	l.w, l.f = nil, nil
}

func (l *csvLog) write(record ...string) {
	if l.w == nil {
		return
	}
	if err := l.w.Write(record); err != nil {
		l.fail(err)
	}
}

func (l *csvLog) close() {
	if l.w == nil {
		return
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.fail(err)
		return
	}
	if err := l.f.Close(); err != nil {
		l.f = nil
		l.fail(err)
	}
}
