// Package runspec parses the optional YAML document a pipeline trigger
// may carry to override the configured extraction query and training
// settings for a single run.
package runspec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"model-pipeline-service/internal/core/domain"
	ports "model-pipeline-service/internal/core/ports/output"
)

// RunSpec is the YAML run specification.
type RunSpec struct {
	Pipeline RunSpecPipeline `yaml:"pipeline"`
}

// RunSpecPipeline is the pipeline section of the run spec.
type RunSpecPipeline struct {
	Source    RunSpecSource   `yaml:"source"`
	Training  RunSpecTraining `yaml:"training"`
	Threshold *float64        `yaml:"threshold,omitempty"`
}

// RunSpecSource selects the rows to extract.
type RunSpecSource struct {
	Table    string   `yaml:"table"`
	Features []string `yaml:"features"`
	Label    string   `yaml:"label"`
	Limit    int      `yaml:"limit"`
}

// RunSpecTraining overrides training defaults. Pointer fields
// distinguish "absent" from an explicit zero.
type RunSpecTraining struct {
	SplitRatio   *float64 `yaml:"split_ratio,omitempty"`
	Seed         *int64   `yaml:"seed,omitempty"`
	Stratify     *bool    `yaml:"stratify,omitempty"`
	LearningRate *float64 `yaml:"learning_rate,omitempty"`
	Epochs       *int     `yaml:"epochs,omitempty"`
}

// Overrides is the parsed, validated form handed to the orchestrator.
// Nil Query means the run uses the configured extraction query; nil
// Threshold means the configured acceptance threshold applies.
type Overrides struct {
	Query     *ports.QuerySpec
	Training  RunSpecTraining
	Threshold *float64
}

// Parse parses a YAML run specification into Overrides. Malformed YAML
// and out-of-range values map to domain.ErrInvalidRunSpec.
func Parse(specYAML string) (*Overrides, error) {
	var spec RunSpec
	if err := yaml.Unmarshal([]byte(specYAML), &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRunSpec, err)
	}

	out := &Overrides{
		Training:  spec.Pipeline.Training,
		Threshold: spec.Pipeline.Threshold,
	}

	if err := validateTraining(spec.Pipeline.Training); err != nil {
		return nil, err
	}
	if spec.Pipeline.Threshold != nil {
		if t := *spec.Pipeline.Threshold; t < 0 || t > 1 {
			return nil, fmt.Errorf("%w: threshold %v outside [0, 1]", domain.ErrInvalidRunSpec, t)
		}
	}

	src := spec.Pipeline.Source
	if src.Table == "" && src.Label == "" && len(src.Features) == 0 {
		return out, nil
	}

	query, err := buildQuery(src)
	if err != nil {
		return nil, err
	}
	out.Query = query
	return out, nil
}

// Apply overlays the run spec's training overrides onto the configured
// defaults.
func (t RunSpecTraining) Apply(cfg domain.TrainConfig) domain.TrainConfig {
	if t.SplitRatio != nil {
		cfg.SplitRatio = *t.SplitRatio
	}
	if t.Seed != nil {
		cfg.Seed = *t.Seed
	}
	if t.Stratify != nil {
		cfg.Stratify = *t.Stratify
	}
	if t.LearningRate != nil {
		cfg.LearningRate = *t.LearningRate
	}
	if t.Epochs != nil {
		cfg.Epochs = *t.Epochs
	}
	return cfg
}

func buildQuery(src RunSpecSource) (*ports.QuerySpec, error) {
	if src.Table == "" {
		return nil, fmt.Errorf("%w: source.table is required", domain.ErrInvalidRunSpec)
	}
	if src.Label == "" {
		return nil, fmt.Errorf("%w: source.label is required", domain.ErrInvalidRunSpec)
	}
	if len(src.Features) == 0 {
		return nil, fmt.Errorf("%w: source.features must name at least one column", domain.ErrInvalidRunSpec)
	}
	seen := make(map[string]bool, len(src.Features))
	for _, f := range src.Features {
		if f == "" {
			return nil, fmt.Errorf("%w: source.features contains an empty name", domain.ErrInvalidRunSpec)
		}
		if f == src.Label {
			return nil, fmt.Errorf("%w: label column %q listed as a feature", domain.ErrInvalidRunSpec, f)
		}
		if seen[f] {
			return nil, fmt.Errorf("%w: duplicate feature column %q", domain.ErrInvalidRunSpec, f)
		}
		seen[f] = true
	}
	if src.Limit < 0 {
		return nil, fmt.Errorf("%w: source.limit must not be negative", domain.ErrInvalidRunSpec)
	}
	return &ports.QuerySpec{
		Table:    src.Table,
		Features: src.Features,
		Label:    src.Label,
		Limit:    src.Limit,
	}, nil
}

func validateTraining(t RunSpecTraining) error {
	if t.SplitRatio != nil {
		if r := *t.SplitRatio; r <= 0 || r >= 1 {
			return fmt.Errorf("%w: training.split_ratio %v outside (0, 1)", domain.ErrInvalidRunSpec, r)
		}
	}
	if t.LearningRate != nil && *t.LearningRate <= 0 {
		return fmt.Errorf("%w: training.learning_rate must be positive", domain.ErrInvalidRunSpec)
	}
	if t.Epochs != nil && *t.Epochs <= 0 {
		return fmt.Errorf("%w: training.epochs must be positive", domain.ErrInvalidRunSpec)
	}
	return nil
}
