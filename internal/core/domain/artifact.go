package domain

import (
	"math"
	"time"
)

// ============================================================================
// Model Artifact
// ============================================================================

// ModelParams holds the fitted parameters of a binary logistic-regression
// classifier. Weights are ordered by the artifact's feature schema. Classes
// holds the two label classes in first-seen dataset order; Score returns
// the probability of Classes[1].
type ModelParams struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Classes []string  `json:"classes"`
}

// Score returns the probability that the encoded feature vector belongs to
// the positive class Classes[1].
func (p ModelParams) Score(vec []float64) float64 {
	sum := p.Bias
	for i, w := range p.Weights {
		sum += w * vec[i]
	}
	return sigmoid(sum)
}

// Label maps a positive-class probability to the predicted class at the 0.5
// decision boundary.
func (p ModelParams) Label(prob float64) string {
	if prob >= 0.5 {
		return p.Classes[1]
	}
	return p.Classes[0]
}

// Finite reports whether every parameter is a usable finite number.
func (p ModelParams) Finite() bool {
	if math.IsNaN(p.Bias) || math.IsInf(p.Bias, 0) {
		return false
	}
	for _, w := range p.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	return true
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// ModelArtifact is a versioned, immutable serialization of a fitted model:
// parameters plus the feature schema the model expects. The trainer emits it
// with Version 0 and zero CreatedAt; the artifact store assigns both at Put,
// so the trained payload (Schema, Params, Metric) is reproducible
// byte-for-byte for a fixed seed and dataset.
type ModelArtifact struct {
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	Metric    float64       `json:"metric"`
	Schema    FeatureSchema `json:"schema"`
	Params    ModelParams   `json:"params"`
}

// Predict scores one feature row against this artifact. It is a pure
// function of the request and the artifact.
func (a *ModelArtifact) Predict(row Row) (label string, prob float64, err error) {
	vec, err := a.Schema.Vectorize(row)
	if err != nil {
		return "", 0, err
	}
	prob = a.Params.Score(vec)
	return a.Params.Label(prob), prob, nil
}

// ArtifactInfo is the index entry the store keeps per stored version.
type ArtifactInfo struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Metric    float64   `json:"metric"`
}
