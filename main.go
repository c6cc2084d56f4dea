package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/manningwu07/charRNN/IO"
	"github.com/manningwu07/charRNN/batching"
	"github.com/manningwu07/charRNN/params"
	"github.com/manningwu07/charRNN/rnn"
	"github.com/manningwu07/charRNN/sampler"
	"github.com/manningwu07/charRNN/train"
)

var (
	configPath string
	corpusFlag string
	vocabFlag  string
	checkpoint string
	primeFlag  string
	nFlag      int
	topNFlag   int
	seedFlag   uint64
	forceFlag  bool

	cfg params.TrainingConfig
)

var rootCmd = &cobra.Command{
	Use:           "charRNN",
	Short:         "Character-level LSTM trainer and sampler",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = loadConfig(cmd)
		return err
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export vocab.json and the binary id stream",
	RunE:  func(*cobra.Command, []string) error { return runExport(cfg) },
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train on the corpus, writing checkpoints",
	RunE:  func(cmd *cobra.Command, _ []string) error { return runTrain(cmd.Context(), cfg) },
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Generate text from a checkpoint",
	RunE:  func(*cobra.Command, []string) error { return runSample(cfg) },
}

var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Interactive prime/generate loop",
	RunE:  func(*cobra.Command, []string) error { return SampleCLI(cfg) },
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML file overriding the default hyperparameters")
	pf.StringVar(&corpusFlag, "corpus", "", "Training text (overrides corpus in the config)")
	pf.StringVar(&vocabFlag, "vocab", "", "vocab.json to read or write (default: next to the corpus)")
	pf.StringVar(&checkpoint, "checkpoint", "", "Checkpoint to sample from (default: latest in checkpoint_dir)")
	pf.StringVar(&primeFlag, "prime", "", "Prime text for sampling")
	pf.IntVarP(&nFlag, "samples", "n", 0, "Number of symbols to generate")
	pf.IntVar(&topNFlag, "topn", 0, "Sample among the N most likely symbols")
	pf.Uint64Var(&seedFlag, "seed", 0, "Random seed")
	pf.BoolVar(&forceFlag, "force", false, "Force re-export even if cache exists")

	rootCmd.AddCommand(exportCmd, trainCmd, sampleCmd, cliCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "❌", err)
	os.Exit(1)
}

// loadConfig layers defaults, the optional YAML file and explicitly set flags.
func loadConfig(cmd *cobra.Command) (params.TrainingConfig, error) {
	c := params.Config
	if configPath != "" {
		var err error
		if c, err = params.Load(configPath); err != nil {
			return c, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("corpus") {
		c.CorpusPath = corpusFlag
	}
	if flags.Changed("vocab") {
		c.VocabPath = vocabFlag
	}
	if flags.Changed("prime") {
		c.Prime = primeFlag
	}
	if flags.Changed("samples") {
		c.NSamples = nFlag
	}
	if flags.Changed("topn") {
		c.TopN = topNFlag
	}
	if flags.Changed("seed") {
		c.Seed = seedFlag
	}
	return c, c.Validate()
}

func vocabPath(cfg params.TrainingConfig) string {
	if cfg.VocabPath != "" {
		return cfg.VocabPath
	}
	return filepath.Join(filepath.Dir(cfg.CorpusPath), "vocab.json")
}

func streamPath(cfg params.TrainingConfig) string {
	return strings.TrimSuffix(cfg.CorpusPath, filepath.Ext(cfg.CorpusPath)) + ".bin"
}

// loadTokens returns the vocabulary and id stream. With reuse set, an
// exported vocab.json and id stream are read instead of the corpus.
func loadTokens(cfg params.TrainingConfig, reuse bool) (*IO.Vocabulary, []int, error) {
	vp, sp := vocabPath(cfg), streamPath(cfg)
	if reuse && IO.FileExists(vp) && IO.FileExists(sp) {
		vocab, err := IO.ImportVocabJSON(vp)
		if err != nil {
			return nil, nil, err
		}
		ids, err := IO.ImportTokenStream(sp, vocab.Size())
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("⚡ Using cached %s and %s (%d symbols, %d ids)\n", vp, sp, vocab.Size(), len(ids))
		return vocab, ids, nil
	}

	text, err := IO.ReadCorpus(cfg.CorpusPath)
	if err != nil {
		return nil, nil, err
	}
	vocab, err := IO.BuildVocabulary(text)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", cfg.CorpusPath, err)
	}
	ids, err := vocab.Encode(text)
	if err != nil {
		return nil, nil, err
	}
	return vocab, ids, nil
}

func runExport(cfg params.TrainingConfig) error {
	fmt.Println("Building vocab & exporting id stream...")
	vp, sp := vocabPath(cfg), streamPath(cfg)
	if IO.FileExists(vp) && IO.FileExists(sp) && !forceFlag {
		fmt.Println("⚡ Using cached vocab.json and id stream (pass --force to rebuild)")
		return nil
	}
	vocab, ids, err := loadTokens(cfg, false)
	if err != nil {
		return err
	}
	if err := IO.ExportVocabJSON(vocab, vp); err != nil {
		return err
	}
	fmt.Printf("✅ Exported %s (%d symbols)\n", vp, vocab.Size())
	if err := IO.ExportTokenStream(ids, sp); err != nil {
		return err
	}
	fmt.Printf("✅ Exported %s (%d ids)\n", sp, len(ids))
	fmt.Println("✨ Export complete")
	return nil
}

func runTrain(ctx context.Context, cfg params.TrainingConfig) error {
	vocab, ids, err := loadTokens(cfg, !forceFlag)
	if err != nil {
		return err
	}
	part, err := batching.Split(ids, cfg.BatchWidth, cfg.WindowWidth, cfg.SplitFraction)
	if err != nil {
		return err
	}
	model := rnn.New(rnn.Config{
		Vocab:  vocab.Size(),
		Hidden: cfg.RecurrentWidth,
		Layers: cfg.NumLayers,
		Seed:   cfg.Seed,
	})
	store := &IO.CheckpointStore{Dir: cfg.CheckpointDir, MaxToKeep: cfg.MaxToKeep}

	tr := train.New(model, vocab, part, cfg, store, os.Stdout)
	res, err := tr.Train(ctx)
	if res != nil {
		printSummary(os.Stdout, res)
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted:", err)
		return nil
	}
	return err
}

// resolveCheckpoint prefers -checkpoint, else the newest file in the
// checkpoint directory.
func resolveCheckpoint(cfg params.TrainingConfig) (string, error) {
	if checkpoint != "" {
		return checkpoint, nil
	}
	path, _, err := IO.LatestCheckpoint(cfg.CheckpointDir)
	return path, err
}

// samplingVocab returns an explicitly configured vocabulary, or nil to use
// the one stored in the checkpoint.
func samplingVocab(cfg params.TrainingConfig) (*IO.Vocabulary, error) {
	if cfg.VocabPath == "" {
		return nil, nil
	}
	return IO.ImportVocabJSON(cfg.VocabPath)
}

func runSample(cfg params.TrainingConfig) error {
	path, err := resolveCheckpoint(cfg)
	if err != nil {
		return err
	}
	vocab, err := samplingVocab(cfg)
	if err != nil {
		return err
	}
	out, err := sampler.GenerateFromCheckpoint(path, cfg.RecurrentWidth, vocab,
		cfg.Prime, cfg.NSamples, cfg.TopN, rnn.NewSource(cfg.Seed))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
