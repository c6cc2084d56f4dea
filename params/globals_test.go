package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/manningwu07/charRNN/errs"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.BatchWidth != 100 || cfg.WindowWidth != 100 {
		t.Errorf("expected 100x100 batches, got %dx%d", cfg.BatchWidth, cfg.WindowWidth)
	}
	if cfg.KeepProb <= 0 || cfg.KeepProb > 1 {
		t.Errorf("keep probability out of range: %g", cfg.KeepProb)
	}
	if cfg.TopN != 5 {
		t.Errorf("expected top_n 5, got %d", cfg.TopN)
	}
	if cfg.CheckpointDir == "" {
		t.Error("expected checkpoint dir to be set")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := "batch_width: 4\nwindow_width: 8\nrecurrent_width: 16\ndropout_keep_probability: 1\nprime: \"The \"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchWidth != 4 || cfg.WindowWidth != 8 || cfg.RecurrentWidth != 16 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.KeepProb != 1 || cfg.Prime != "The " {
		t.Errorf("overrides not applied: keep=%g prime=%q", cfg.KeepProb, cfg.Prime)
	}
	if cfg.NumLayers != Config.NumLayers || cfg.LearningRate != Config.LearningRate {
		t.Errorf("unset keys should keep defaults: %+v", cfg)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*TrainingConfig){
		"batch":  func(c *TrainingConfig) { c.BatchWidth = 0 },
		"window": func(c *TrainingConfig) { c.WindowWidth = -1 },
		"keep":   func(c *TrainingConfig) { c.KeepProb = 0 },
		"split":  func(c *TrainingConfig) { c.SplitFraction = 1.5 },
		"topn":   func(c *TrainingConfig) { c.TopN = 0 },
		"save":   func(c *TrainingConfig) { c.SaveEveryN = 0 },
	}
	for name, mutate := range cases {
		cfg := Config
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, errs.ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}
