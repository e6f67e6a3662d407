package api

import (
	"net/http"

	"abstats/domain/core"
	"abstats/domain/experiment"

	"github.com/gin-gonic/gin"
)

type exposureRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
}

type outcomeRequest struct {
	RecipientID string `json:"recipient_id" binding:"required"`
	Outcome     string `json:"outcome" binding:"required,oneof=success failure"`
}

// recordExposure assigns the recipient and returns the variant to send
func (s *Server) recordExposure(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	var req exposureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	recipient, err := core.ParseRecipientID(req.RecipientID)
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	variantID, err := s.services.Events.RecordExposure(c.Request.Context(), id, recipient)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"experiment_id": id, "recipient_id": recipient, "variant_id": variantID})
}

// recordOutcome stores a conversion result. A repeated outcome answers 200
// with duplicate set.
func (s *Server) recordOutcome(c *gin.Context) {
	id, ok := s.experimentID(c)
	if !ok {
		return
	}
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	recipient, err := core.ParseRecipientID(req.RecipientID)
	if err != nil {
		s.badRequest(c, err.Error())
		return
	}
	res, err := s.services.Events.RecordOutcome(c.Request.Context(), id, recipient, experiment.OutcomeKind(req.Outcome))
	if err != nil {
		s.respondError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}
