package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"model-pipeline-service/internal/core/domain"
	output "model-pipeline-service/internal/core/ports/output"
)

const (
	defaultSplitRatio   = 0.8
	defaultLearningRate = 0.1
	defaultEpochs       = 400

	convergenceTol = 1e-6
)

// TrainingService fits a binary logistic-regression classifier with
// full-batch gradient descent. Training is deterministic: the same
// dataset and config always produce the same parameters and metric.
type TrainingService struct{}

func NewTrainingService() *TrainingService {
	return &TrainingService{}
}

func (s *TrainingService) Train(ctx context.Context, ds *domain.Dataset, cfg domain.TrainConfig) (*output.TrainResult, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, domain.ErrEmptyDataset
	}
	cfg = withTrainDefaults(cfg)

	// 1. Resolve the label classes in first-seen order. The model is
	// binary: the second class is the positive one.
	classes := classOrder(ds.Labels)
	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: need 2 label classes, got %d", domain.ErrInsufficientData, len(classes))
	}
	if len(classes) > 2 {
		return nil, fmt.Errorf("%w: binary classifier cannot fit %d label classes", domain.ErrTrainingFailed, len(classes))
	}

	// 2. Derive the serving schema from the data and encode the rows.
	schema, err := ds.DeriveSchema()
	if err != nil {
		return nil, err
	}
	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("%w: dataset has no feature columns", domain.ErrSchemaMismatch)
	}

	features := make([][]float64, ds.Len())
	labels := make([]float64, ds.Len())
	for i, row := range ds.Rows {
		vec, err := schema.Vectorize(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", domain.ErrSchemaMismatch, i, err)
		}
		features[i] = vec
		if ds.Labels[i] == classes[1] {
			labels[i] = 1
		}
	}

	// 3. Deterministic split, then weight init, from one seeded source.
	rng := rand.New(rand.NewSource(cfg.Seed))
	trainIdx, testIdx := splitIndices(rng, ds.Labels, cfg)
	if len(trainIdx) == 0 || len(testIdx) == 0 {
		return nil, fmt.Errorf("%w: %d rows cannot be split %v/%v", domain.ErrInsufficientData, ds.Len(), cfg.SplitRatio, 1-cfg.SplitRatio)
	}

	weights := make([]float64, len(schema.Columns))
	for i := range weights {
		weights[i] = rng.NormFloat64() * 0.01
	}
	bias := 0.0

	// 4. Full-batch gradient descent on binary cross-entropy.
	var warnings []string
	initialLoss := bceLoss(features, labels, trainIdx, weights, bias)
	lastLoss := initialLoss
	var prevLoss float64
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		gradW := make([]float64, len(weights))
		gradB := 0.0
		for _, i := range trainIdx {
			p := sigmoidDot(features[i], weights, bias)
			d := (p - labels[i]) / float64(len(trainIdx))
			for j, x := range features[i] {
				gradW[j] += d * x
			}
			gradB += d
		}
		for j := range weights {
			weights[j] -= cfg.LearningRate * gradW[j]
		}
		bias -= cfg.LearningRate * gradB

		prevLoss = lastLoss
		lastLoss = bceLoss(features, labels, trainIdx, weights, bias)
	}

	if lastLoss > initialLoss {
		warnings = append(warnings, fmt.Sprintf("training loss increased from %.6f to %.6f; learning rate may be too high", initialLoss, lastLoss))
	} else if prevLoss-lastLoss > convergenceTol {
		warnings = append(warnings, fmt.Sprintf("training stopped before convergence after %d epochs", cfg.Epochs))
	}

	params := domain.ModelParams{Weights: weights, Bias: bias, Classes: classes}
	if !params.Finite() {
		return nil, fmt.Errorf("%w: parameters diverged to non-finite values", domain.ErrTrainingFailed)
	}

	// 5. Holdout accuracy.
	correct := 0
	for _, i := range testIdx {
		p := sigmoidDot(features[i], weights, bias)
		predicted := 0.0
		if p >= 0.5 {
			predicted = 1
		}
		if predicted == labels[i] {
			correct++
		}
	}
	metric := float64(correct) / float64(len(testIdx))
	if math.IsNaN(metric) || math.IsInf(metric, 0) {
		return nil, fmt.Errorf("%w: holdout metric is not finite", domain.ErrTrainingFailed)
	}

	artifact := &domain.ModelArtifact{
		Metric: metric,
		Schema: schema,
		Params: params,
	}
	return &output.TrainResult{Artifact: artifact, Metric: metric, Warnings: warnings}, nil
}

func withTrainDefaults(cfg domain.TrainConfig) domain.TrainConfig {
	if cfg.SplitRatio <= 0 || cfg.SplitRatio >= 1 {
		cfg.SplitRatio = defaultSplitRatio
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = defaultLearningRate
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = defaultEpochs
	}
	return cfg
}

// classOrder returns the distinct labels in first-seen order.
func classOrder(labels []string) []string {
	var classes []string
	seen := make(map[string]bool)
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			classes = append(classes, l)
		}
	}
	return classes
}

// splitIndices partitions row indices into train and holdout sets.
// Stratified mode permutes each class separately so both partitions
// keep the class balance; plain mode permutes all rows at once.
func splitIndices(rng *rand.Rand, labels []string, cfg domain.TrainConfig) (train, test []int) {
	if !cfg.Stratify {
		perm := rng.Perm(len(labels))
		n := boundedTrainCount(len(labels), cfg.SplitRatio)
		return perm[:n], perm[n:]
	}

	byClass := make(map[string][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}
	for _, class := range classOrder(labels) {
		idx := byClass[class]
		perm := rng.Perm(len(idx))
		n := boundedTrainCount(len(idx), cfg.SplitRatio)
		for i, p := range perm {
			if i < n {
				train = append(train, idx[p])
			} else {
				test = append(test, idx[p])
			}
		}
	}
	return train, test
}

// boundedTrainCount keeps at least one row on each side when possible.
func boundedTrainCount(n int, ratio float64) int {
	count := int(ratio * float64(n))
	if count < 1 {
		count = 1
	}
	if count >= n && n > 1 {
		count = n - 1
	}
	if count > n {
		count = n
	}
	return count
}

func sigmoidDot(x, w []float64, b float64) float64 {
	sum := b
	for j, v := range x {
		sum += w[j] * v
	}
	return 1.0 / (1.0 + math.Exp(-sum))
}

// bceLoss is the mean binary cross-entropy over the given rows, with
// probabilities clamped away from 0 and 1.
func bceLoss(features [][]float64, labels []float64, idx []int, w []float64, b float64) float64 {
	const eps = 1e-12
	total := 0.0
	for _, i := range idx {
		p := sigmoidDot(features[i], w, b)
		if p < eps {
			p = eps
		}
		if p > 1-eps {
			p = 1 - eps
		}
		total += -(labels[i]*math.Log(p) + (1-labels[i])*math.Log(1-p))
	}
	return total / float64(len(idx))
}
