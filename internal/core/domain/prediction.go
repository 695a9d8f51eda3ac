package domain

// PredictionRequest is a single feature row to score against the currently
// published artifact. The row must match that artifact's feature schema.
type PredictionRequest struct {
	Features Row `json:"features"`
}

// PredictionResponse is the scored result. Version is always the artifact
// version that served the request, for traceability.
type PredictionResponse struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
	Version     int     `json:"version"`
}

// TrainConfig controls the split and fit of one training run. Seed makes
// the split and weight initialization reproducible: the same seed and
// dataset yield a bit-identical artifact payload.
type TrainConfig struct {
	SplitRatio   float64 `json:"split_ratio"`
	Seed         int64   `json:"seed"`
	Stratify     bool    `json:"stratify"`
	LearningRate float64 `json:"learning_rate"`
	Epochs       int     `json:"epochs"`
}
