package api

import (
	"net/http"
	"strconv"

	"abstats/domain/core"
	"abstats/domain/stats"

	"github.com/gin-gonic/gin"
)

func (s *Server) getFrequentist(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	rep, err := s.services.Frequentist.Analyze(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) getBayesian(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	rows, err := s.services.Bayesian.Posteriors(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posteriors": rows})
}

func (s *Server) recomputeBayesian(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	rows, err := s.services.Bayesian.ComputeProbabilityBest(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posteriors": rows})
}

func (s *Server) getSequential(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	checks, err := s.services.Sequential.Checks(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	state, err := s.services.Sequential.State(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	schedule, err := s.services.Sequential.Schedule(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if checks == nil {
		checks = []stats.SequentialAnalysis{}
	}
	c.JSON(http.StatusOK, gin.H{"state": state, "checks": checks, "schedule": schedule})
}

func (s *Server) runSequentialCheck(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	row, err := s.services.Sequential.RunCheck(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (s *Server) getBandit(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	arms, err := s.services.Bandit.Arms(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	regret, err := s.services.Bandit.Regret(ctx, id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if regret == nil {
		regret = []stats.BanditRegret{}
	}
	c.JSON(http.StatusOK, gin.H{"arms": arms, "regret": regret})
}

// selectBanditVariant draws an arm without recording an assignment
func (s *Server) selectBanditVariant(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	variantID, err := s.services.Bandit.SelectVariant(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"variant_id": variantID})
}

type powerRequest struct {
	ExperimentID            *string `json:"experiment_id"`
	BaselineRate            float64 `json:"baseline_rate" binding:"gt=0,lt=1"`
	MinimumDetectableEffect float64 `json:"minimum_detectable_effect" binding:"gt=0"`
	Power                   float64 `json:"power" binding:"omitempty,gt=0,lt=1"`
	SignificanceLevel       float64 `json:"significance_level" binding:"omitempty,gt=0,lt=1"`
	DailyTraffic            *int    `json:"daily_traffic" binding:"omitempty,gt=0"`
	VariantCount            int     `json:"variant_count" binding:"omitempty,gte=2"`
}

func (s *Server) calculatePower(c *gin.Context) {
	var req powerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	in := stats.PowerInput{
		BaselineRate:            req.BaselineRate,
		MinimumDetectableEffect: req.MinimumDetectableEffect,
		Power:                   req.Power,
		SignificanceLevel:       req.SignificanceLevel,
		DailyTraffic:            req.DailyTraffic,
		VariantCount:            req.VariantCount,
	}
	if in.Power == 0 {
		in.Power = 0.8
	}
	if in.SignificanceLevel == 0 {
		in.SignificanceLevel = 0.05
	}
	if req.ExperimentID != nil {
		expID, err := core.ParseExperimentID(*req.ExperimentID)
		if err != nil {
			s.badRequest(c, err.Error())
			return
		}
		in.ExperimentID = &expID
	}
	row, err := s.services.Power.Calculate(c.Request.Context(), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (s *Server) getPowerAnalysis(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("powerId"), 10, 64)
	if err != nil {
		s.badRequest(c, "power analysis id must be an integer")
		return
	}
	row, err := s.services.Power.Get(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) listPowerAnalyses(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	rows, err := s.services.Power.List(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if rows == nil {
		rows = []stats.PowerAnalysis{}
	}
	c.JSON(http.StatusOK, gin.H{"power_analyses": rows})
}
