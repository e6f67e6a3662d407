package api

import (
	"context"
	"encoding/json"
	"net/http"

	"abstats/domain/core"
	"abstats/domain/experiment"

	"github.com/gin-gonic/gin"
)

type variantRequest struct {
	Name              string  `json:"name" binding:"required,max=100"`
	Subject           string  `json:"subject"`
	Content           string  `json:"content"`
	DistributionJobID *string `json:"distribution_job_id"`
	IsControl         bool    `json:"is_control"`
}

type createExperimentRequest struct {
	TenantID          string             `json:"tenant_id" binding:"required"`
	FormID            *string            `json:"form_id"`
	Name              string             `json:"name" binding:"required,max=255"`
	Channel           string             `json:"channel" binding:"required,oneof=email sms whatsapp"`
	Method            string             `json:"statistical_method" binding:"omitempty,oneof=frequentist bayesian sequential bandit"`
	MethodConfig      json.RawMessage    `json:"method_config"`
	SuccessMetric     string             `json:"success_metric"`
	MinSampleSize     int                `json:"min_sample_size" binding:"gte=0"`
	ConfidenceLevel   float64            `json:"confidence_level" binding:"omitempty,gt=0,lt=1"`
	TrafficAllocation map[string]float64 `json:"traffic_allocation"`
	Variants          []variantRequest   `json:"variants" binding:"required,min=1,dive"`
}

func (r createExperimentRequest) toInput() experiment.NewExperiment {
	method := experiment.Method(r.Method)
	if method == "" {
		method = experiment.MethodFrequentist
	}
	in := experiment.NewExperiment{
		TenantID:        core.TenantID(r.TenantID),
		FormID:          r.FormID,
		Name:            r.Name,
		Channel:         experiment.Channel(r.Channel),
		Method:          method,
		MethodConfig:    r.MethodConfig,
		SuccessMetric:   r.SuccessMetric,
		MinSampleSize:   r.MinSampleSize,
		ConfidenceLevel: r.ConfidenceLevel,
		Allocation:      r.TrafficAllocation,
	}
	for _, v := range r.Variants {
		in.Variants = append(in.Variants, experiment.NewVariant{
			Name:              v.Name,
			Subject:           v.Subject,
			Content:           v.Content,
			DistributionJobID: v.DistributionJobID,
			IsControl:         v.IsControl,
		})
	}
	return in
}

func (s *Server) createExperiment(c *gin.Context) {
	var req createExperimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	exp, err := s.services.Registry.Create(c.Request.Context(), req.toInput())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exp)
}

func (s *Server) listExperiments(c *gin.Context) {
	tenant := c.Query("tenant_id")
	if tenant == "" {
		s.badRequest(c, "tenant_id query parameter is required")
		return
	}
	exps, err := s.services.Registry.List(c.Request.Context(), core.TenantID(tenant))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if exps == nil {
		exps = []*experiment.Experiment{}
	}
	c.JSON(http.StatusOK, gin.H{"experiments": exps})
}

func (s *Server) getExperiment(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	exp, err := s.services.Registry.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

type allocationRequest struct {
	TrafficAllocation map[string]float64 `json:"traffic_allocation" binding:"required"`
}

func (s *Server) updateAllocation(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	var req allocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	exp, err := s.services.Registry.UpdateAllocation(c.Request.Context(), id, req.TrafficAllocation)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

type variantContentRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content" binding:"required"`
}

func (s *Server) updateVariant(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	variantID, err := core.ParseVariantID(c.Param("variantId"))
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	var req variantContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	exp, err := s.services.Registry.UpdateVariantContent(c.Request.Context(), id, variantID, req.Subject, req.Content)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Server) startExperiment(c *gin.Context) {
	s.transition(c, s.services.Registry.Start)
}

func (s *Server) pauseExperiment(c *gin.Context) {
	s.transition(c, s.services.Registry.Pause)
}

func (s *Server) resumeExperiment(c *gin.Context) {
	s.transition(c, s.services.Registry.Resume)
}

type completeRequest struct {
	WinningVariantID *string `json:"winning_variant_id"`
}

func (s *Server) completeExperiment(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	var req completeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.badRequest(c, err.Error())
			return
		}
	}
	var winner *core.VariantID
	if req.WinningVariantID != nil {
		v, err := core.ParseVariantID(*req.WinningVariantID)
		if err != nil {
			s.badRequest(c, err.Error())
			return
		}
		winner = &v
	}
	exp, err := s.services.Registry.Complete(c.Request.Context(), id, winner)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

func (s *Server) transition(c *gin.Context, apply func(ctx context.Context, id core.ExperimentID) (*experiment.Experiment, error)) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	exp, err := apply(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}
