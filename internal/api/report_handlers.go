package api

import (
	"bytes"
	"fmt"
	"net/http"

	"abstats/adapters/excel"
	"abstats/internal/report"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) summary(c *gin.Context) (*report.Summary, bool) {
	id, ok := s.experimentID(c)
	if !ok {
		return nil, false
	}
	sum, err := s.services.Reports.Summary(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return nil, false
	}
	return sum, true
}

func (s *Server) getReport(c *gin.Context) {
	sum, ok := s.summary(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) getReportHTML(c *gin.Context) {
	sum, ok := s.summary(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", report.HTML(sum))
}

func (s *Server) getReportXLSX(c *gin.Context) {
	sum, ok := s.summary(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := excel.WriteWorkbook(&buf, sum); err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "experiment-"+sum.Experiment.ID.String()+".xlsx"))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
