package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"model-pipeline-service/internal/core/domain"
	output "model-pipeline-service/internal/core/ports/output"
	"model-pipeline-service/internal/runspec"
)

// PipelineOptions are the orchestrator defaults. A run spec attached to
// a trigger may override Query, Train and Threshold for a single run.
type PipelineOptions struct {
	Query          output.QuerySpec
	Train          domain.TrainConfig
	Threshold      float64
	ExtractRetries int
	RetryBackoff   time.Duration
	HealthInterval time.Duration
	HealthMaxPolls int
	Keep           int
}

// pipelineStages is the work a run performs, in execution order.
var pipelineStages = []domain.Stage{
	domain.StageExtracting,
	domain.StageTraining,
	domain.StageEvaluating,
	domain.StagePublishing,
	domain.StageDeploying,
	domain.StageHealthChecking,
}

// PipelineService drives pipeline runs through extraction, training,
// evaluation, publication, deployment and health checking. Each run
// executes on its own goroutine; concurrent runs are permitted and the
// artifact store serializes publication.
type PipelineService struct {
	source   output.DatasetSource
	trainer  output.Trainer
	store    output.ArtifactStore
	deployer output.Deployer
	prober   output.ServingProber
	runs     output.PipelineRunRepository
	opts     PipelineOptions

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

func NewPipelineService(
	source output.DatasetSource,
	trainer output.Trainer,
	store output.ArtifactStore,
	deployer output.Deployer,
	prober output.ServingProber,
	runs output.PipelineRunRepository,
	opts PipelineOptions,
) *PipelineService {
	return &PipelineService{
		source:   source,
		trainer:  trainer,
		store:    store,
		deployer: deployer,
		prober:   prober,
		runs:     runs,
		opts:     opts,
		active:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Trigger records a new run and starts executing it in the background.
// The returned snapshot reflects the run at creation time; poll GetRun
// for progress.
func (s *PipelineService) Trigger(ctx context.Context, trigger domain.RunTrigger, overrides *runspec.Overrides) (*domain.PipelineRun, error) {
	run := domain.NewPipelineRun(trigger)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	// The run outlives the triggering request, so it gets its own
	// lifecycle context.
	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active[run.ID] = cancel
	s.mu.Unlock()

	snapshot := *run
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.active, run.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.execute(runCtx, run, overrides)
	}()

	return &snapshot, nil
}

// Run executes a pipeline run synchronously and returns it in its
// terminal state.
func (s *PipelineService) Run(ctx context.Context, trigger domain.RunTrigger, overrides *runspec.Overrides) (*domain.PipelineRun, error) {
	run := domain.NewPipelineRun(trigger)
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	s.execute(ctx, run, overrides)
	return run, nil
}

// Cancel requests cancellation of a running pipeline. The run stops at
// its next stage boundary. A run this process is not executing but that
// never finished is marked failed directly.
func (s *PipelineService) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if run.Terminal() {
		return domain.ErrRunFinished
	}

	// Leftover from an earlier process: close it out.
	run.Fail(domain.ErrRunCancelled.Error())
	if err := s.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("update cancelled run: %w", err)
	}
	return nil
}

// GetRun loads one run.
func (s *PipelineService) GetRun(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error) {
	return s.runs.GetByID(ctx, id)
}

// ListRuns pages through run records.
func (s *PipelineService) ListRuns(ctx context.Context, filter output.RunListFilter) ([]*domain.PipelineRun, int, error) {
	return s.runs.List(ctx, filter)
}

// ListArtifacts returns the stored artifact versions, newest first.
func (s *PipelineService) ListArtifacts(ctx context.Context) ([]domain.ArtifactInfo, error) {
	return s.store.ListVersions(ctx)
}

// CurrentArtifact returns the published artifact.
func (s *PipelineService) CurrentArtifact(ctx context.Context) (*domain.ModelArtifact, error) {
	return s.store.GetCurrent(ctx)
}

// execute drives one run through the stage machine. ctx cancellation is
// honored at stage boundaries and during waits; the terminal run record
// is persisted even after cancellation.
func (s *PipelineService) execute(ctx context.Context, run *domain.PipelineRun, overrides *runspec.Overrides) {
	persistCtx := context.WithoutCancel(ctx)
	logger := log.WithFields(log.Fields{"run_id": run.ID, "trigger": run.Trigger.Source})
	logger.Info("pipeline run started")

	query, train, threshold := s.runParams(overrides)

	// 1. Extract the dataset, retrying transient source outages.
	if s.cancelledBefore(persistCtx, ctx, run, domain.StageExtracting, logger) {
		return
	}
	started := s.beginStage(persistCtx, run, domain.StageExtracting, logger)
	ds, err := s.extract(ctx, query, logger)
	if err != nil {
		s.failStage(persistCtx, run, domain.StageExtracting, started, err, logger)
		return
	}
	s.passStage(persistCtx, run, domain.StageExtracting, started, nil, logger)
	logger.WithField("rows", ds.Len()).Info("dataset extracted")

	// 2. Train.
	if s.cancelledBefore(persistCtx, ctx, run, domain.StageTraining, logger) {
		return
	}
	started = s.beginStage(persistCtx, run, domain.StageTraining, logger)
	result, err := s.trainer.Train(ctx, ds, train)
	if err != nil {
		s.failStage(persistCtx, run, domain.StageTraining, started, err, logger)
		return
	}
	s.passStage(persistCtx, run, domain.StageTraining, started, result.Warnings, logger)
	for _, w := range result.Warnings {
		logger.Warn(w)
	}

	// 3. Evaluate against the acceptance threshold. A rejected model is
	// never stored; the published pointer stays untouched.
	if s.cancelledBefore(persistCtx, ctx, run, domain.StageEvaluating, logger) {
		return
	}
	started = s.beginStage(persistCtx, run, domain.StageEvaluating, logger)
	run.SetMetric(result.Metric)
	if result.Metric < threshold {
		err := fmt.Errorf("%w: metric %.4f below threshold %.4f", domain.ErrMetricBelowThreshold, result.Metric, threshold)
		s.failStage(persistCtx, run, domain.StageEvaluating, started, err, logger)
		return
	}
	s.passStage(persistCtx, run, domain.StageEvaluating, started, nil, logger)
	logger.WithFields(log.Fields{"metric": result.Metric, "threshold": threshold}).Info("model accepted")

	// 4. Publish: store the artifact and move the current pointer,
	// remembering the previous version for rollback.
	if s.cancelledBefore(persistCtx, ctx, run, domain.StagePublishing, logger) {
		return
	}
	started = s.beginStage(persistCtx, run, domain.StagePublishing, logger)
	prev, hadPrev, version, err := s.publish(ctx, result.Artifact)
	if err != nil {
		s.failStage(persistCtx, run, domain.StagePublishing, started, err, logger)
		return
	}
	run.SetArtifact(version)
	s.passStage(persistCtx, run, domain.StagePublishing, started, nil, logger)
	logger.WithField("version", version).Info("artifact published")

	// 5. Deploy. Without a configured deployment target the remaining
	// stages are recorded as skipped and publication stands as final.
	if s.cancelledBefore(persistCtx, ctx, run, domain.StageDeploying, logger) {
		return
	}
	if !s.deployAvailable() || s.prober == nil {
		s.skipStage(persistCtx, run, domain.StageDeploying, logger)
		s.skipStage(persistCtx, run, domain.StageHealthChecking, logger)
		s.finishSucceeded(persistCtx, run, logger)
		return
	}
	started = s.beginStage(persistCtx, run, domain.StageDeploying, logger)
	if err := s.deployer.Restart(ctx); err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrDeployFailed, err)
		s.recordFailure(run, domain.StageDeploying, started, err)
		s.rollBack(persistCtx, run, prev, hadPrev, err, logger)
		return
	}
	s.passStage(persistCtx, run, domain.StageDeploying, started, nil, logger)

	// 6. Health check: the serving fleet must report the new version
	// within the bounded poll budget, or the run rolls back.
	if s.cancelledBefore(persistCtx, ctx, run, domain.StageHealthChecking, logger) {
		return
	}
	started = s.beginStage(persistCtx, run, domain.StageHealthChecking, logger)
	if err := s.awaitServing(ctx, version, logger); err != nil {
		s.recordFailure(run, domain.StageHealthChecking, started, err)
		if errors.Is(err, domain.ErrRunCancelled) {
			s.finishFailed(persistCtx, run, err.Error(), logger)
			return
		}
		s.rollBack(persistCtx, run, prev, hadPrev, err, logger)
		return
	}
	s.passStage(persistCtx, run, domain.StageHealthChecking, started, nil, logger)

	s.finishSucceeded(persistCtx, run, logger)
}

func (s *PipelineService) runParams(overrides *runspec.Overrides) (output.QuerySpec, domain.TrainConfig, float64) {
	query, train, threshold := s.opts.Query, s.opts.Train, s.opts.Threshold
	if overrides == nil {
		return query, train, threshold
	}
	if overrides.Query != nil {
		query = *overrides.Query
	}
	train = overrides.Training.Apply(train)
	if overrides.Threshold != nil {
		threshold = *overrides.Threshold
	}
	return query, train, threshold
}

// extract fetches the dataset, retrying source outages with backoff.
// Schema mismatches and empty results fail immediately.
func (s *PipelineService) extract(ctx context.Context, query output.QuerySpec, logger *log.Entry) (*domain.Dataset, error) {
	attempts := s.opts.ExtractRetries + 1
	for attempt := 1; ; attempt++ {
		ds, err := s.source.Fetch(ctx, query)
		if err == nil {
			if ds.Len() == 0 {
				return nil, fmt.Errorf("%w: source query returned no rows", domain.ErrEmptyDataset)
			}
			return ds, nil
		}
		if !errors.Is(err, domain.ErrSourceUnavailable) || attempt >= attempts {
			return nil, err
		}
		logger.WithError(err).Warnf("extraction attempt %d/%d failed, retrying in %s", attempt, attempts, s.opts.RetryBackoff)
		if !sleepCtx(ctx, s.opts.RetryBackoff) {
			return nil, fmt.Errorf("%w during extraction backoff", domain.ErrRunCancelled)
		}
	}
}

// publish stores the trained artifact and points the store at it,
// reporting the previously published version for rollback.
func (s *PipelineService) publish(ctx context.Context, artifact *domain.ModelArtifact) (prev int, hadPrev bool, version int, err error) {
	prev, err = s.store.CurrentVersion(ctx)
	switch {
	case err == nil:
		hadPrev = true
	case errors.Is(err, domain.ErrNoCurrentArtifact):
		hadPrev = false
	default:
		return 0, false, 0, fmt.Errorf("read current version: %w", err)
	}

	version, err = s.store.Put(ctx, artifact)
	if err != nil {
		return 0, false, 0, fmt.Errorf("store artifact: %w", err)
	}
	if err = s.store.Publish(ctx, version); err != nil {
		return 0, false, 0, fmt.Errorf("publish version %d: %w", version, err)
	}
	return prev, hadPrev, version, nil
}

// awaitServing polls the serving fleet until it reports version or the
// poll budget runs out.
func (s *PipelineService) awaitServing(ctx context.Context, version int, logger *log.Entry) error {
	for poll := 1; poll <= s.opts.HealthMaxPolls; poll++ {
		served, err := s.prober.ServingVersion(ctx)
		switch {
		case err != nil:
			logger.WithError(err).Warnf("health poll %d/%d failed", poll, s.opts.HealthMaxPolls)
		case served == version:
			return nil
		default:
			logger.Warnf("health poll %d/%d: serving version %d, want %d", poll, s.opts.HealthMaxPolls, served, version)
		}
		if poll < s.opts.HealthMaxPolls {
			if !sleepCtx(ctx, s.opts.HealthInterval) {
				return fmt.Errorf("%w during health check", domain.ErrRunCancelled)
			}
		}
	}
	return fmt.Errorf("%w: still not serving version %d after %d polls", domain.ErrHealthCheckTimeout, version, s.opts.HealthMaxPolls)
}

// rollBack republishes the previous version and re-triggers deployment
// after a failed deploy or health check. Without a previous version the
// run can only fail.
func (s *PipelineService) rollBack(persistCtx context.Context, run *domain.PipelineRun, prev int, hadPrev bool, cause error, logger *log.Entry) {
	if !hadPrev {
		s.skipRemaining(run, run.Stage)
		s.finishFailed(persistCtx, run, fmt.Sprintf("%s; %s", cause, domain.ErrNoRollbackTarget), logger)
		return
	}

	logger.WithError(cause).Warnf("rolling back to version %d", prev)

	// The rollback itself must not be interrupted by run cancellation.
	if err := s.store.Publish(persistCtx, prev); err != nil {
		s.skipRemaining(run, run.Stage)
		s.finishFailed(persistCtx, run, fmt.Sprintf("%s; republish of version %d failed: %s", cause, prev, err), logger)
		return
	}
	if s.deployAvailable() {
		if err := s.deployer.Restart(persistCtx); err != nil {
			s.skipRemaining(run, run.Stage)
			s.finishFailed(persistCtx, run, fmt.Sprintf("%s; redeploy of version %d failed: %s", cause, prev, err), logger)
			return
		}
	}

	s.skipRemaining(run, run.Stage)
	if err := run.RollBack(fmt.Sprintf("%s; rolled back to version %d", cause, prev)); err != nil {
		s.finishFailed(persistCtx, run, fmt.Sprintf("%s; %s", cause, err), logger)
		return
	}
	s.persist(persistCtx, run, logger)
	logger.WithField("version", prev).Info("pipeline run rolled back")
}

func (s *PipelineService) deployAvailable() bool {
	return s.deployer != nil && s.deployer.IsAvailable()
}

// cancelledBefore checks for cancellation at a stage boundary. A
// cancelled run fails without entering the stage.
func (s *PipelineService) cancelledBefore(persistCtx, ctx context.Context, run *domain.PipelineRun, stage domain.Stage, logger *log.Entry) bool {
	if ctx.Err() == nil {
		return false
	}
	s.skipFrom(run, stage)
	s.finishFailed(persistCtx, run, fmt.Sprintf("%s before %s", domain.ErrRunCancelled, stage), logger)
	return true
}

func (s *PipelineService) beginStage(persistCtx context.Context, run *domain.PipelineRun, stage domain.Stage, logger *log.Entry) time.Time {
	if err := run.Advance(stage); err != nil {
		logger.WithError(err).Errorf("advance to %s", stage)
	}
	s.persist(persistCtx, run, logger)
	return time.Now().UTC()
}

func (s *PipelineService) passStage(persistCtx context.Context, run *domain.PipelineRun, stage domain.Stage, started time.Time, warnings []string, logger *log.Entry) {
	run.RecordStage(domain.StageResult{
		Stage:     stage,
		Outcome:   domain.OutcomeSuccess,
		Warnings:  warnings,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
	})
	s.persist(persistCtx, run, logger)
}

// skipStage advances through a stage without doing its work, recording
// a skipped outcome.
func (s *PipelineService) skipStage(persistCtx context.Context, run *domain.PipelineRun, stage domain.Stage, logger *log.Entry) {
	if err := run.Advance(stage); err != nil {
		logger.WithError(err).Errorf("advance to %s", stage)
	}
	now := time.Now().UTC()
	run.RecordStage(domain.StageResult{Stage: stage, Outcome: domain.OutcomeSkipped, StartedAt: now, EndedAt: now})
	s.persist(persistCtx, run, logger)
}

func (s *PipelineService) recordFailure(run *domain.PipelineRun, stage domain.Stage, started time.Time, err error) {
	run.RecordStage(domain.StageResult{
		Stage:     stage,
		Outcome:   domain.OutcomeFailure,
		Error:     err.Error(),
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
	})
}

// failStage records the failed stage, skips the rest and fails the run.
func (s *PipelineService) failStage(persistCtx context.Context, run *domain.PipelineRun, stage domain.Stage, started time.Time, err error, logger *log.Entry) {
	s.recordFailure(run, stage, started, err)
	s.skipRemaining(run, stage)
	s.finishFailed(persistCtx, run, err.Error(), logger)
}

// skipFrom records stage and everything after it as skipped.
func (s *PipelineService) skipFrom(run *domain.PipelineRun, stage domain.Stage) {
	now := time.Now().UTC()
	recording := false
	for _, st := range pipelineStages {
		if st == stage {
			recording = true
		}
		if recording {
			run.RecordStage(domain.StageResult{Stage: st, Outcome: domain.OutcomeSkipped, StartedAt: now, EndedAt: now})
		}
	}
}

// skipRemaining records every stage after the given one as skipped.
func (s *PipelineService) skipRemaining(run *domain.PipelineRun, stage domain.Stage) {
	now := time.Now().UTC()
	recording := false
	for _, st := range pipelineStages {
		if recording {
			run.RecordStage(domain.StageResult{Stage: st, Outcome: domain.OutcomeSkipped, StartedAt: now, EndedAt: now})
		}
		if st == stage {
			recording = true
		}
	}
}

func (s *PipelineService) finishFailed(persistCtx context.Context, run *domain.PipelineRun, reason string, logger *log.Entry) {
	run.Fail(reason)
	s.persist(persistCtx, run, logger)
	logger.WithField("reason", reason).Error("pipeline run failed")
}

func (s *PipelineService) finishSucceeded(persistCtx context.Context, run *domain.PipelineRun, logger *log.Entry) {
	if err := run.Succeed(); err != nil {
		s.finishFailed(persistCtx, run, err.Error(), logger)
		return
	}
	s.persist(persistCtx, run, logger)
	logger.Info("pipeline run succeeded")

	if s.opts.Keep > 0 {
		pruned, err := s.store.Prune(persistCtx, s.opts.Keep)
		if err != nil {
			logger.WithError(err).Warn("artifact pruning failed")
		} else if len(pruned) > 0 {
			logger.WithField("versions", pruned).Info("pruned old artifacts")
		}
	}
}

func (s *PipelineService) persist(ctx context.Context, run *domain.PipelineRun, logger *log.Entry) {
	if err := s.runs.Update(ctx, run); err != nil {
		logger.WithError(err).Warn("persist run record")
	}
}

// sleepCtx waits for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
