package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"model-pipeline-service/internal/adapters/primary/http/dto"
	"model-pipeline-service/internal/core/domain"
	"model-pipeline-service/internal/core/ports/output"
	"model-pipeline-service/internal/core/services"
	"model-pipeline-service/internal/runspec"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// PipelineHandler exposes the pipeline control API: triggering and
// cancelling runs, inspecting their stage history, and browsing the
// artifact store.
type PipelineHandler struct {
	pipelineSvc *services.PipelineService
}

func NewPipelineHandler(pipelineSvc *services.PipelineService) *PipelineHandler {
	return &PipelineHandler{pipelineSvc: pipelineSvc}
}

func (h *PipelineHandler) RegisterRoutes(r *gin.RouterGroup) {
	// Pipeline Runs
	r.POST("/runs", h.TriggerRun)
	r.GET("/runs", h.ListRuns)
	r.GET("/runs/:id", h.GetRun)
	r.POST("/runs/:id/cancel", h.CancelRun)

	// Artifacts
	r.GET("/artifacts", h.ListArtifacts)
	r.GET("/artifacts/current", h.GetCurrentArtifact)
}

func (h *PipelineHandler) TriggerRun(c *gin.Context) {
	var req dto.TriggerRunRequest
	// An empty body is a plain manual trigger.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var overrides *runspec.Overrides
	if req.SpecYAML != "" {
		parsed, err := runspec.Parse(req.SpecYAML)
		if err != nil {
			mapDomainError(c, err)
			return
		}
		overrides = parsed
	}

	trigger := domain.RunTrigger{Source: req.Source, Commit: req.Commit, Actor: req.Actor}
	run, err := h.pipelineSvc.Trigger(c.Request.Context(), trigger, overrides)
	if err != nil {
		log.WithError(err).Error("trigger pipeline run failed")
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.ToPipelineRunResponse(run))
}

func (h *PipelineHandler) ListRuns(c *gin.Context) {
	stage := c.Query("stage")
	if stage != "" && !domain.Stage(stage).IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stage filter"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := ports.RunListFilter{
		Stage:  stage,
		Limit:  limit,
		Offset: offset,
	}

	runs, total, err := h.pipelineSvc.ListRuns(c.Request.Context(), filter)
	if err != nil {
		log.WithError(err).Error("list pipeline runs failed")
		mapDomainError(c, err)
		return
	}

	items := make([]dto.PipelineRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, dto.ToPipelineRunResponse(run))
	}

	c.JSON(http.StatusOK, dto.ListRunsResponse{
		Items:      items,
		Total:      total,
		PageSize:   limit,
		NextOffset: offset + len(items),
	})
}

func (h *PipelineHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := h.pipelineSvc.GetRun(c.Request.Context(), id)
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToPipelineRunResponse(run))
}

func (h *PipelineHandler) CancelRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	if err := h.pipelineSvc.Cancel(c.Request.Context(), id); err != nil {
		log.WithError(err).Error("cancel pipeline run failed")
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

func (h *PipelineHandler) ListArtifacts(c *gin.Context) {
	infos, err := h.pipelineSvc.ListArtifacts(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("list artifacts failed")
		mapDomainError(c, err)
		return
	}

	items := make([]dto.ArtifactInfoResponse, 0, len(infos))
	for _, info := range infos {
		items = append(items, dto.ToArtifactInfoResponse(info))
	}

	c.JSON(http.StatusOK, dto.ListArtifactsResponse{
		Items: items,
		Total: len(items),
	})
}

func (h *PipelineHandler) GetCurrentArtifact(c *gin.Context) {
	artifact, err := h.pipelineSvc.CurrentArtifact(c.Request.Context())
	if err != nil {
		mapDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToArtifactResponse(artifact))
}
