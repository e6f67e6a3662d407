package api

import (
	"errors"
	"net/http"

	"abstats/domain/core"
	apperrors "abstats/internal/errors"

	"github.com/gin-gonic/gin"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError maps err to a status through the shared error table. Missing
// data is not a failure: it answers 202 with the reason.
func (s *Server) respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if errors.Is(err, core.ErrInsufficientData) {
		c.JSON(status, gin.H{"status": "insufficient_data", "notice": err.Error()})
		return
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, errorResponse{Error: err.Error(), Code: apperrors.GetCode(err)})
}

// badRequest answers 400 for malformed bodies and path parameters
func (s *Server) badRequest(c *gin.Context, message string) {
	s.respondError(c, apperrors.InvalidInput(message))
}

func (s *Server) noRoute(c *gin.Context) {
	s.respondError(c, apperrors.NotFound("route "+c.Request.Method+" "+c.Request.URL.Path))
}

// recovered answers 500 without leaking the panic value
func (s *Server) recovered(c *gin.Context, v interface{}) {
	s.logger.Error("panic in %s %s: %v", c.Request.Method, c.Request.URL.Path, v)
	s.respondError(c, apperrors.InternalError("unexpected server error"))
	c.Abort()
}

func (s *Server) experimentID(c *gin.Context) (core.ExperimentID, bool) {
	id, err := core.ParseExperimentID(c.Param("id"))
	if err != nil {
		s.badRequest(c, err.Error())
		return "", false
	}
	return id, true
}
