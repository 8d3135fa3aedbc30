package server

import (
	"bytes"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	reportdomain "github.com/smallbiznis/iuran/internal/report/domain"
)

func (s *Server) GetReport(c *gin.Context) {
	report, err := s.reportSvc.BuildReport(c.Request.Context(), c.Param("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) ExportArrearsCSV(c *gin.Context) {
	report, err := s.reportSvc.BuildReport(c.Request.Context(), c.Param("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	export, err := s.reportSvc.ExportArrears(c.Request.Context(), report)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeExport(c, export, report.Truncated)
}

func (s *Server) ExportArrearsPDF(c *gin.Context) {
	report, err := s.reportSvc.BuildReport(c.Request.Context(), c.Param("period"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	export, err := s.reportSvc.ExportArrearsPDF(c.Request.Context(), report)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	writeExport(c, export, report.Truncated)
}

const headerReportTruncated = "X-Report-Truncated"

func writeExport(c *gin.Context, export reportdomain.Export, truncated bool) {
	if truncated {
		c.Header(headerReportTruncated, "true")
	}
	extra := map[string]string{
		"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename}),
	}
	c.DataFromReader(http.StatusOK, int64(len(export.Body)), export.ContentType, bytes.NewReader(export.Body), extra)
}
