package dto

import (
	"time"

	"github.com/google/uuid"

	"model-pipeline-service/internal/core/domain"
)

// ============================================================================
// Pipeline Run DTOs
// ============================================================================

type TriggerRunRequest struct {
	Source   string `json:"source" binding:"omitempty,oneof=push manual"`
	Commit   string `json:"commit" binding:"max=64"`
	Actor    string `json:"actor" binding:"max=100"`
	SpecYAML string `json:"spec_yaml"`
}

type RunTriggerResponse struct {
	Source string `json:"source"`
	Commit string `json:"commit,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type StageResultResponse struct {
	Stage     string    `json:"stage"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type PipelineRunResponse struct {
	ID              uuid.UUID             `json:"id"`
	Stage           string                `json:"stage"`
	StartedAt       time.Time             `json:"started_at"`
	EndedAt         *time.Time            `json:"ended_at,omitempty"`
	Trigger         RunTriggerResponse    `json:"trigger"`
	Stages          []StageResultResponse `json:"stages"`
	ArtifactVersion *int                  `json:"artifact_version,omitempty"`
	Metric          *float64              `json:"metric,omitempty"`
	Reason          string                `json:"reason,omitempty"`
}

type ListRunsResponse struct {
	Items      []PipelineRunResponse `json:"items"`
	Total      int                   `json:"total"`
	PageSize   int                   `json:"page_size"`
	NextOffset int                   `json:"next_offset"`
}

func ToPipelineRunResponse(run *domain.PipelineRun) PipelineRunResponse {
	stages := make([]StageResultResponse, 0, len(run.Stages))
	for _, s := range run.Stages {
		stages = append(stages, StageResultResponse{
			Stage:     string(s.Stage),
			Outcome:   string(s.Outcome),
			Error:     s.Error,
			Warnings:  s.Warnings,
			StartedAt: s.StartedAt,
			EndedAt:   s.EndedAt,
		})
	}

	return PipelineRunResponse{
		ID:        run.ID,
		Stage:     string(run.Stage),
		StartedAt: run.StartedAt,
		EndedAt:   run.EndedAt,
		Trigger: RunTriggerResponse{
			Source: run.Trigger.Source,
			Commit: run.Trigger.Commit,
			Actor:  run.Trigger.Actor,
		},
		Stages:          stages,
		ArtifactVersion: run.ArtifactVersion,
		Metric:          run.Metric,
		Reason:          run.Reason,
	}
}
