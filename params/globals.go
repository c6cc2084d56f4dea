package params

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/manningwu07/charRNN/errs"
)

type TrainingConfig struct {
	// Core model parameters
	BatchWidth     int `yaml:"batch_width"`     // B, lanes per batch
	WindowWidth    int `yaml:"window_width"`    // S, positions per window
	RecurrentWidth int `yaml:"recurrent_width"` // H, LSTM units per layer
	NumLayers      int `yaml:"num_layers"`

	// Optimization
	LearningRate    float64 `yaml:"learning_rate"`
	GradClip        float64 `yaml:"gradient_clip_norm"` // global norm ceiling, <=0 disables
	KeepProb        float64 `yaml:"dropout_keep_probability"`
	AdamBeta1       float64 `yaml:"adam_beta1"`
	AdamBeta2       float64 `yaml:"adam_beta2"`
	AdamEps         float64 `yaml:"adam_eps"`
	WeightDecay     float64 `yaml:"weight_decay"`
	SplitFraction   float64 `yaml:"split_fraction"` // fraction of windows used for training
	Epochs          int     `yaml:"epochs"`
	SaveEveryN      int     `yaml:"save_every_n"` // validate + checkpoint every N iterations
	MaxToKeep       int     `yaml:"max_to_keep"`  // 0 keeps every checkpoint
	Seed            uint64  `yaml:"seed"`
	Resume          bool    `yaml:"resume"`
	PrintEveryBatch bool    `yaml:"print_every_batch"`

	// Sampling only
	TopN     int    `yaml:"top_n"`
	Prime    string `yaml:"prime"`
	NSamples int    `yaml:"n_samples"`

	// Files
	CorpusPath    string `yaml:"corpus"`
	VocabPath     string `yaml:"vocab_path"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	LogCSV        string `yaml:"log_csv"`
}

// Defaults follow the usual Anna Karenina char-RNN setup.
var Config = TrainingConfig{
	BatchWidth:     100,
	WindowWidth:    100,
	RecurrentWidth: 512,
	NumLayers:      2,

	LearningRate:    0.001,
	GradClip:        5,
	KeepProb:        0.5,
	AdamBeta1:       0.9,
	AdamBeta2:       0.999,
	AdamEps:         1e-8,
	WeightDecay:     0,
	SplitFraction:   0.9,
	Epochs:          20,
	SaveEveryN:      200,
	MaxToKeep:       100,
	Seed:            1,
	PrintEveryBatch: true,

	TopN:     5,
	Prime:    "Far",
	NSamples: 2000,

	CorpusPath:    "anna.txt",
	CheckpointDir: "checkpoints",
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (TrainingConfig, error) {
	cfg := Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c TrainingConfig) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", errs.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.BatchWidth < 1:
		return bad("batch_width must be >= 1, got %d", c.BatchWidth)
	case c.WindowWidth < 1:
		return bad("window_width must be >= 1, got %d", c.WindowWidth)
	case c.RecurrentWidth < 1:
		return bad("recurrent_width must be >= 1, got %d", c.RecurrentWidth)
	case c.NumLayers < 1:
		return bad("num_layers must be >= 1, got %d", c.NumLayers)
	case c.LearningRate <= 0:
		return bad("learning_rate must be > 0, got %g", c.LearningRate)
	case c.KeepProb <= 0 || c.KeepProb > 1:
		return bad("dropout_keep_probability must be in (0, 1], got %g", c.KeepProb)
	case c.SplitFraction < 0 || c.SplitFraction > 1:
		return bad("split_fraction must be in [0, 1], got %g", c.SplitFraction)
	case c.Epochs < 1:
		return bad("epochs must be >= 1, got %d", c.Epochs)
	case c.SaveEveryN < 1:
		return bad("save_every_n must be >= 1, got %d", c.SaveEveryN)
	case c.MaxToKeep < 0:
		return bad("max_to_keep must be >= 0, got %d", c.MaxToKeep)
	case c.TopN < 1:
		return bad("top_n must be >= 1, got %d", c.TopN)
	case c.NSamples < 0:
		return bad("n_samples must be >= 0, got %d", c.NSamples)
	}
	return nil
}
