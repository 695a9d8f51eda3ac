package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"model-pipeline-service/internal/adapters/secondary/fsstore"
	"model-pipeline-service/internal/core/domain"
	output "model-pipeline-service/internal/core/ports/output"
	"model-pipeline-service/internal/testutil"
)

// These tests wire a real artifact store, the real trainer and a real
// prediction service together, mocking only the boundaries that leave
// the process: the SQL source, the deployment target and the serving
// probe.

// seededStore opens a store in a temp dir with version 1 published.
func seededStore(t *testing.T) *fsstore.Store {
	t.Helper()
	store, err := fsstore.New(t.TempDir())
	require.NoError(t, err)

	version, err := store.Put(context.Background(), &domain.ModelArtifact{
		Metric: 0.7,
		Schema: domain.FeatureSchema{Columns: []domain.FeatureColumn{
			{Name: "x1", Type: domain.ColumnNumeric},
			{Name: "x2", Type: domain.ColumnNumeric},
		}},
		Params: domain.ModelParams{Weights: []float64{1, 1}, Bias: 0, Classes: []string{"no", "yes"}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Publish(context.Background(), version))
	return store
}

// clusteredDataset builds 100 rows with a 60/40 label split over two
// numeric columns and one categorical column. The classes sit in
// well-separated clusters, so the fitted model clears any reasonable
// threshold.
func clusteredDataset() *domain.Dataset {
	ds := &domain.Dataset{
		Schema: domain.FeatureSchema{Columns: []domain.FeatureColumn{
			{Name: "x1", Type: domain.ColumnNumeric},
			{Name: "x2", Type: domain.ColumnNumeric},
			{Name: "segment", Type: domain.ColumnCategorical},
		}},
	}
	for i := 0; i < 100; i++ {
		jitter := float64(i%7) * 0.01
		if i%5 < 3 {
			ds.Rows = append(ds.Rows, domain.Row{"x1": -2.0 + jitter, "x2": -1.5 - jitter, "segment": "basic"})
			ds.Labels = append(ds.Labels, "no")
		} else {
			ds.Rows = append(ds.Rows, domain.Row{"x1": 2.0 - jitter, "x2": 1.5 + jitter, "segment": "premium"})
			ds.Labels = append(ds.Labels, "yes")
		}
	}
	return ds
}

// uninformativeDataset builds rows whose features carry no signal, so
// the fitted model cannot beat majority-class accuracy on the holdout.
func uninformativeDataset() *domain.Dataset {
	ds := &domain.Dataset{
		Schema: domain.FeatureSchema{Columns: []domain.FeatureColumn{
			{Name: "x1", Type: domain.ColumnNumeric},
			{Name: "x2", Type: domain.ColumnNumeric},
			{Name: "segment", Type: domain.ColumnCategorical},
		}},
	}
	for i := 0; i < 100; i++ {
		ds.Rows = append(ds.Rows, domain.Row{"x1": 1.0, "x2": 1.0, "segment": "basic"})
		if i%5 < 3 {
			ds.Labels = append(ds.Labels, "no")
		} else {
			ds.Labels = append(ds.Labels, "yes")
		}
	}
	return ds
}

func e2eOpts(threshold float64) PipelineOptions {
	return PipelineOptions{
		Query:          output.QuerySpec{Table: "events", Features: []string{"x1", "x2", "segment"}, Label: "y"},
		Train:          trainCfg(7),
		Threshold:      threshold,
		RetryBackoff:   time.Millisecond,
		HealthInterval: time.Millisecond,
		HealthMaxPolls: 3,
		Keep:           5,
	}
}

func TestPipelineEndToEnd_PublishAndServe(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	predictor := NewPredictionService(store)
	require.NoError(t, predictor.Reload(ctx))
	before, err := predictor.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, before.Version)

	source := new(testutil.MockDatasetSource)
	source.On("Fetch", mock.Anything, mock.Anything).Return(clusteredDataset(), nil)
	deployer := new(testutil.MockDeployer)
	deployer.On("IsAvailable").Return(true)
	deployer.On("Restart", mock.Anything).Return(nil)
	prober := new(testutil.MockServingProber)
	prober.On("ServingVersion", mock.Anything).Return(2, nil)
	runs := new(testutil.MockPipelineRunRepo)
	runs.On("Create", mock.Anything, mock.Anything).Return(nil)
	runs.On("Update", mock.Anything, mock.Anything).Return(nil)

	opts := e2eOpts(0.6)
	svc := NewPipelineService(source, NewTrainingService(), store, deployer, prober, runs, opts)

	run, err := svc.Run(ctx, domain.RunTrigger{Source: domain.TriggerSourcePush, Commit: "abc1234"}, nil)
	require.NoError(t, err)

	require.Equal(t, domain.StageSucceeded, run.Stage)
	require.NotNil(t, run.ArtifactVersion)
	assert.Equal(t, 2, *run.ArtifactVersion)
	require.NotNil(t, run.Metric)
	assert.GreaterOrEqual(t, *run.Metric, opts.Threshold)
	for _, stage := range pipelineStages {
		assert.Equal(t, domain.OutcomeSuccess, stageOutcome(run, stage), string(stage))
	}

	current, err := store.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, current)

	// The serving side picks the new version up on its next reload.
	require.NoError(t, predictor.Reload(ctx))
	resp, err := predictor.Predict(ctx, domain.PredictionRequest{Features: domain.Row{"x1": 2.0, "x2": 1.5, "segment": "premium"}})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Version)
	assert.Equal(t, "yes", resp.Label)
	assert.Greater(t, resp.Probability, 0.5)

	resp, err = predictor.Predict(ctx, domain.PredictionRequest{Features: domain.Row{"x1": -2.0, "x2": -1.5, "segment": "basic"}})
	require.NoError(t, err)
	assert.Equal(t, "no", resp.Label)
}

func TestPipelineEndToEnd_RejectedModelKeepsServing(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	predictor := NewPredictionService(store)
	require.NoError(t, predictor.Reload(ctx))

	source := new(testutil.MockDatasetSource)
	source.On("Fetch", mock.Anything, mock.Anything).Return(uninformativeDataset(), nil)
	deployer := new(testutil.MockDeployer)
	prober := new(testutil.MockServingProber)
	runs := new(testutil.MockPipelineRunRepo)
	runs.On("Create", mock.Anything, mock.Anything).Return(nil)
	runs.On("Update", mock.Anything, mock.Anything).Return(nil)

	svc := NewPipelineService(source, NewTrainingService(), store, deployer, prober, runs, e2eOpts(0.9))

	run, err := svc.Run(ctx, domain.RunTrigger{}, nil)
	require.NoError(t, err)

	require.Equal(t, domain.StageFailed, run.Stage)
	assert.Contains(t, run.Reason, "below threshold")
	assert.Nil(t, run.ArtifactVersion)
	assert.Equal(t, domain.OutcomeFailure, stageOutcome(run, domain.StageEvaluating))
	assert.Equal(t, domain.OutcomeSkipped, stageOutcome(run, domain.StagePublishing))
	deployer.AssertNotCalled(t, "Restart", mock.Anything)

	// The rejected model was never stored, let alone published.
	versions, err := store.ListVersions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)

	// Serving still answers, tagged with the untouched version.
	require.NoError(t, predictor.Reload(ctx))
	resp, err := predictor.Predict(ctx, domain.PredictionRequest{Features: domain.Row{"x1": 1.0, "x2": 1.0}})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Version)
}
