package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"model-pipeline-service/internal/core/domain"
	output "model-pipeline-service/internal/core/ports/output"
)

// PredictionService serves predictions from the currently published
// artifact. The loaded artifact sits behind an atomic pointer: Reload
// swaps it in one step, and a request that began scoring against the
// old version finishes against that same version.
type PredictionService struct {
	store   output.ArtifactStore
	current atomic.Pointer[domain.ModelArtifact]
}

func NewPredictionService(store output.ArtifactStore) *PredictionService {
	return &PredictionService{store: store}
}

// Predict scores one feature row against the loaded artifact.
func (s *PredictionService) Predict(ctx context.Context, req domain.PredictionRequest) (*domain.PredictionResponse, error) {
	artifact := s.current.Load()
	if artifact == nil {
		return nil, domain.ErrModelNotLoaded
	}

	label, prob, err := artifact.Predict(req.Features)
	if err != nil {
		return nil, err
	}

	return &domain.PredictionResponse{
		Label:       label,
		Probability: prob,
		Version:     artifact.Version,
	}, nil
}

// Current returns the artifact currently being served.
func (s *PredictionService) Current() (*domain.ModelArtifact, error) {
	artifact := s.current.Load()
	if artifact == nil {
		return nil, domain.ErrModelNotLoaded
	}
	return artifact, nil
}

// Reload checks the store's published version and swaps the loaded
// artifact when it changed. With nothing published yet it leaves the
// service empty and returns nil; callers poll again later.
func (s *PredictionService) Reload(ctx context.Context) error {
	version, err := s.store.CurrentVersion(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoCurrentArtifact) {
			return nil
		}
		return fmt.Errorf("check published version: %w", err)
	}

	if cur := s.current.Load(); cur != nil && cur.Version == version {
		return nil
	}

	artifact, err := s.store.GetCurrent(ctx)
	if err != nil {
		return fmt.Errorf("load published artifact: %w", err)
	}

	s.current.Store(artifact)
	log.WithFields(log.Fields{
		"version": artifact.Version,
		"metric":  artifact.Metric,
	}).Info("serving model reloaded")
	return nil
}
