package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"model-pipeline-service/internal/core/domain"
	output "model-pipeline-service/internal/core/ports/output"
	"model-pipeline-service/internal/runspec"
	"model-pipeline-service/internal/testutil"
)

func testOpts() PipelineOptions {
	return PipelineOptions{
		Query:          output.QuerySpec{Table: "events", Features: []string{"a", "b"}, Label: "y"},
		Train:          domain.TrainConfig{SplitRatio: 0.8, Seed: 1, Stratify: true, LearningRate: 0.1, Epochs: 10},
		Threshold:      0.6,
		ExtractRetries: 2,
		RetryBackoff:   time.Millisecond,
		HealthInterval: time.Millisecond,
		HealthMaxPolls: 3,
	}
}

func smallDataset() *domain.Dataset {
	ds := &domain.Dataset{
		Schema: domain.FeatureSchema{Columns: []domain.FeatureColumn{
			{Name: "a", Type: domain.ColumnNumeric},
			{Name: "b", Type: domain.ColumnNumeric},
		}},
	}
	for i := 0; i < 10; i++ {
		v := float64(i%2*2 - 1)
		ds.Rows = append(ds.Rows, domain.Row{"a": v, "b": -v})
		if v > 0 {
			ds.Labels = append(ds.Labels, "yes")
		} else {
			ds.Labels = append(ds.Labels, "no")
		}
	}
	return ds
}

func trained(metric float64) *output.TrainResult {
	return &output.TrainResult{
		Artifact: &domain.ModelArtifact{
			Metric: metric,
			Schema: domain.FeatureSchema{Columns: []domain.FeatureColumn{
				{Name: "a", Type: domain.ColumnNumeric},
				{Name: "b", Type: domain.ColumnNumeric},
			}},
			Params: domain.ModelParams{Weights: []float64{1, -1}, Bias: 0, Classes: []string{"no", "yes"}},
		},
		Metric: metric,
	}
}

func stageOutcome(run *domain.PipelineRun, stage domain.Stage) domain.StageOutcome {
	for _, res := range run.Stages {
		if res.Stage == stage {
			return res.Outcome
		}
	}
	return ""
}

type pipelineMocks struct {
	source   *testutil.MockDatasetSource
	trainer  *testutil.MockTrainer
	store    *testutil.MockArtifactStore
	deployer *testutil.MockDeployer
	prober   *testutil.MockServingProber
	runs     *testutil.MockPipelineRunRepo
}

func newPipelineMocks() pipelineMocks {
	m := pipelineMocks{
		source:   new(testutil.MockDatasetSource),
		trainer:  new(testutil.MockTrainer),
		store:    new(testutil.MockArtifactStore),
		deployer: new(testutil.MockDeployer),
		prober:   new(testutil.MockServingProber),
		runs:     new(testutil.MockPipelineRunRepo),
	}
	m.runs.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.runs.On("Update", mock.Anything, mock.Anything).Return(nil)
	return m
}

func (m pipelineMocks) service(opts PipelineOptions) *PipelineService {
	return NewPipelineService(m.source, m.trainer, m.store, m.deployer, m.prober, m.runs, opts)
}

// serviceNoDeploy wires a pipeline without a deployment target, so the
// deploy and health stages are skipped.
func (m pipelineMocks) serviceNoDeploy(opts PipelineOptions) *PipelineService {
	return NewPipelineService(m.source, m.trainer, m.store, nil, nil, m.runs, opts)
}

func TestRun_SucceedsThroughAllStages(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.9), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(0, domain.ErrNoCurrentArtifact)
	m.store.On("Put", mock.Anything, mock.Anything).Return(1, nil)
	m.store.On("Publish", mock.Anything, 1).Return(nil)
	m.deployer.On("IsAvailable").Return(true)
	m.deployer.On("Restart", mock.Anything).Return(nil)
	m.prober.On("ServingVersion", mock.Anything).Return(1, nil)

	run, err := m.service(testOpts()).Run(context.Background(), domain.RunTrigger{Source: domain.TriggerSourcePush}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageSucceeded, run.Stage)
	require.NotNil(t, run.ArtifactVersion)
	assert.Equal(t, 1, *run.ArtifactVersion)
	require.NotNil(t, run.Metric)
	assert.Equal(t, 0.9, *run.Metric)
	require.NotNil(t, run.EndedAt)

	for _, stage := range pipelineStages {
		assert.Equal(t, domain.OutcomeSuccess, stageOutcome(run, stage), "stage %s", stage)
	}
}

func TestRun_BelowThresholdLeavesStoreUntouched(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.75), nil)

	opts := testOpts()
	opts.Threshold = 0.9
	run, err := m.serviceNoDeploy(opts).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, run.Stage)
	assert.Contains(t, run.Reason, "below")
	require.NotNil(t, run.Metric)
	assert.Equal(t, 0.75, *run.Metric)
	assert.Nil(t, run.ArtifactVersion)

	assert.Equal(t, domain.OutcomeFailure, stageOutcome(run, domain.StageEvaluating))
	assert.Equal(t, domain.OutcomeSkipped, stageOutcome(run, domain.StagePublishing))

	m.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	m.store.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRun_RetriesSourceOutages(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(nil, domain.ErrSourceUnavailable).Twice()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil).Once()
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.9), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(0, domain.ErrNoCurrentArtifact)
	m.store.On("Put", mock.Anything, mock.Anything).Return(1, nil)
	m.store.On("Publish", mock.Anything, 1).Return(nil)

	run, err := m.serviceNoDeploy(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageSucceeded, run.Stage)
	m.source.AssertNumberOfCalls(t, "Fetch", 3)
	assert.Equal(t, domain.OutcomeSkipped, stageOutcome(run, domain.StageDeploying))
	assert.Equal(t, domain.OutcomeSkipped, stageOutcome(run, domain.StageHealthChecking))
}

func TestRun_ExhaustedRetriesFail(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(nil, domain.ErrSourceUnavailable)

	run, err := m.serviceNoDeploy(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, run.Stage)
	m.source.AssertNumberOfCalls(t, "Fetch", 3)
	assert.Equal(t, domain.OutcomeFailure, stageOutcome(run, domain.StageExtracting))
	assert.Equal(t, domain.OutcomeSkipped, stageOutcome(run, domain.StageTraining))
}

func TestRun_SchemaMismatchFailsImmediately(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(nil, domain.ErrSchemaMismatch)

	run, err := m.serviceNoDeploy(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, run.Stage)
	m.source.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestRun_EmptyExtractionFails(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(&domain.Dataset{}, nil)

	run, err := m.serviceNoDeploy(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, run.Stage)
	assert.Contains(t, run.Reason, "no rows")
}

func TestRun_DeployFailureRollsBack(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.9), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(3, nil)
	m.store.On("Put", mock.Anything, mock.Anything).Return(4, nil)
	m.store.On("Publish", mock.Anything, 4).Return(nil)
	m.deployer.On("IsAvailable").Return(true)
	m.deployer.On("Restart", mock.Anything).Return(errors.New("apiserver unreachable")).Once()
	m.store.On("Publish", mock.Anything, 3).Return(nil)
	m.deployer.On("Restart", mock.Anything).Return(nil).Once()

	run, err := m.service(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageRolledBack, run.Stage)
	assert.Contains(t, run.Reason, "rolled back to version 3")
	assert.Equal(t, domain.OutcomeFailure, stageOutcome(run, domain.StageDeploying))
	assert.Equal(t, domain.OutcomeSkipped, stageOutcome(run, domain.StageHealthChecking))
	m.store.AssertCalled(t, "Publish", mock.Anything, 3)
	m.deployer.AssertNumberOfCalls(t, "Restart", 2)
}

func TestRun_HealthTimeoutRollsBack(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.9), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(1, nil)
	m.store.On("Put", mock.Anything, mock.Anything).Return(2, nil)
	m.store.On("Publish", mock.Anything, 2).Return(nil)
	m.store.On("Publish", mock.Anything, 1).Return(nil)
	m.deployer.On("IsAvailable").Return(true)
	m.deployer.On("Restart", mock.Anything).Return(nil)
	m.prober.On("ServingVersion", mock.Anything).Return(1, nil)

	run, err := m.service(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageRolledBack, run.Stage)
	assert.Contains(t, run.Reason, "rolled back to version 1")
	assert.Equal(t, domain.OutcomeFailure, stageOutcome(run, domain.StageHealthChecking))
	m.prober.AssertNumberOfCalls(t, "ServingVersion", 3)
	m.store.AssertCalled(t, "Publish", mock.Anything, 1)
	m.deployer.AssertNumberOfCalls(t, "Restart", 2)
}

func TestRun_HealthRecoversWithinBudget(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.9), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(1, nil)
	m.store.On("Put", mock.Anything, mock.Anything).Return(2, nil)
	m.store.On("Publish", mock.Anything, 2).Return(nil)
	m.deployer.On("IsAvailable").Return(true)
	m.deployer.On("Restart", mock.Anything).Return(nil)
	m.prober.On("ServingVersion", mock.Anything).Return(1, nil).Once()
	m.prober.On("ServingVersion", mock.Anything).Return(2, nil).Once()

	run, err := m.service(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageSucceeded, run.Stage)
	m.prober.AssertNumberOfCalls(t, "ServingVersion", 2)
}

func TestRun_NoRollbackTargetFails(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.9), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(0, domain.ErrNoCurrentArtifact)
	m.store.On("Put", mock.Anything, mock.Anything).Return(1, nil)
	m.store.On("Publish", mock.Anything, 1).Return(nil)
	m.deployer.On("IsAvailable").Return(true)
	m.deployer.On("Restart", mock.Anything).Return(errors.New("boom"))

	run, err := m.service(testOpts()).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, run.Stage)
	assert.Contains(t, run.Reason, "no previously published version")
	m.deployer.AssertNumberOfCalls(t, "Restart", 1)
}

func TestRun_PrunesAfterSuccess(t *testing.T) {
	m := newPipelineMocks()
	m.source.On("Fetch", mock.Anything, mock.Anything).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.Anything).Return(trained(0.9), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(6, nil)
	m.store.On("Put", mock.Anything, mock.Anything).Return(7, nil)
	m.store.On("Publish", mock.Anything, 7).Return(nil)
	m.store.On("Prune", mock.Anything, 5).Return([]int{1, 2}, nil)

	opts := testOpts()
	opts.Keep = 5
	run, err := m.serviceNoDeploy(opts).Run(context.Background(), domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageSucceeded, run.Stage)
	m.store.AssertCalled(t, "Prune", mock.Anything, 5)
}

func TestRun_SpecOverridesApply(t *testing.T) {
	m := newPipelineMocks()
	override := output.QuerySpec{Table: "alt_events", Features: []string{"x"}, Label: "z"}
	m.source.On("Fetch", mock.Anything, override).Return(smallDataset(), nil)
	m.trainer.On("Train", mock.Anything, mock.Anything, mock.MatchedBy(func(cfg domain.TrainConfig) bool {
		return cfg.Seed == 99
	})).Return(trained(0.55), nil)
	m.store.On("CurrentVersion", mock.Anything).Return(0, domain.ErrNoCurrentArtifact)
	m.store.On("Put", mock.Anything, mock.Anything).Return(1, nil)
	m.store.On("Publish", mock.Anything, 1).Return(nil)

	seed := int64(99)
	threshold := 0.5
	overrides := &runspec.Overrides{
		Query:     &override,
		Training:  runspec.RunSpecTraining{Seed: &seed},
		Threshold: &threshold,
	}

	run, err := m.serviceNoDeploy(testOpts()).Run(context.Background(), domain.RunTrigger{Source: domain.TriggerSourceManual}, overrides)
	require.NoError(t, err)

	assert.Equal(t, domain.StageSucceeded, run.Stage)
}

func TestRun_CancelledContextStopsAtBoundary(t *testing.T) {
	m := newPipelineMocks()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := m.serviceNoDeploy(testOpts()).Run(ctx, domain.RunTrigger{}, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StageFailed, run.Stage)
	assert.Contains(t, run.Reason, "cancelled")
	m.source.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	for _, stage := range pipelineStages {
		assert.Equal(t, domain.OutcomeSkipped, stageOutcome(run, stage), "stage %s", stage)
	}
}

func TestTriggerAndCancel_RunningRun(t *testing.T) {
	m := newPipelineMocks()

	fetchStarted := make(chan struct{})
	var once sync.Once
	m.source.On("Fetch", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		once.Do(func() { close(fetchStarted) })
	}).Return(nil, domain.ErrSourceUnavailable)

	done := make(chan struct{})
	var doneOnce sync.Once
	m.runs.ExpectedCalls = nil
	m.runs.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.runs.On("Update", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		if args.Get(1).(*domain.PipelineRun).Terminal() {
			doneOnce.Do(func() { close(done) })
		}
	}).Return(nil)

	opts := testOpts()
	opts.RetryBackoff = time.Minute
	svc := m.serviceNoDeploy(opts)

	run, err := svc.Trigger(context.Background(), domain.RunTrigger{Source: domain.TriggerSourcePush}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StageTriggered, run.Stage)

	<-fetchStarted
	require.NoError(t, svc.Cancel(context.Background(), run.ID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not reach a terminal state after cancel")
	}
}

func TestCancel_UnknownAndFinishedRuns(t *testing.T) {
	m := newPipelineMocks()
	svc := m.serviceNoDeploy(testOpts())

	missing := uuid.New()
	m.runs.On("GetByID", mock.Anything, missing).Return(nil, domain.ErrRunNotFound)
	err := svc.Cancel(context.Background(), missing)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	finished := domain.NewPipelineRun(domain.RunTrigger{})
	finished.Fail("done")
	m.runs.On("GetByID", mock.Anything, finished.ID).Return(finished, nil)
	err = svc.Cancel(context.Background(), finished.ID)
	assert.ErrorIs(t, err, domain.ErrRunFinished)
}

func TestCancel_StaleRunIsClosedOut(t *testing.T) {
	m := newPipelineMocks()
	svc := m.serviceNoDeploy(testOpts())

	stale := domain.NewPipelineRun(domain.RunTrigger{})
	m.runs.On("GetByID", mock.Anything, stale.ID).Return(stale, nil)

	require.NoError(t, svc.Cancel(context.Background(), stale.ID))
	assert.Equal(t, domain.StageFailed, stale.Stage)
	assert.Contains(t, stale.Reason, "cancelled")
}
