package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cleverdesk/printing-agent/internal/settings"
	"github.com/cleverdesk/printing-agent/internal/spool"
)

type printRequest struct {
	PDF             string                 `json:"pdf"`
	PDFBase64       string                 `json:"pdfBase64"`
	PDFPath         string                 `json:"pdfPath"`
	PDFURL          string                 `json:"pdfUrl"`
	HTML            string                 `json:"html"`
	URL             string                 `json:"url"`
	PrinterName     string                 `json:"printerName"`
	Priority        string                 `json:"priority"`
	PrintBackground *bool                  `json:"printBackground"`
	PageSize        string                 `json:"pageSize"`
	Margins         spool.Margins          `json:"margins"`
	Copies          int                    `json:"copies"`
	Metadata        map[string]interface{} `json:"metadata"`
}

type jobView struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Priority   string    `json:"priority"`
	RetryCount int       `json:"retryCount"`
	Error      string    `json:"error,omitempty"`
}

func toJobView(j spool.Job) jobView {
	return jobView{
		ID:         j.ID,
		Status:     string(j.Status),
		Timestamp:  j.CreatedAt,
		Priority:   string(j.Priority),
		RetryCount: j.RetryCount,
		Error:      j.LastError,
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	info := s.spooler.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"spooler": gin.H{
			"isProcessing": info.IsProcessing,
			"queueLength":  info.QueueLength,
			"maxQueueSize": info.MaxQueueSize,
		},
	})
}

func (s *Server) handlePrint(c *gin.Context) {
	var req printRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	// pdfBase64 wins over pdf when both are present.
	pdfBytes := req.PDFBase64
	if pdfBytes == "" {
		pdfBytes = req.PDF
	}

	payload := spool.Payload{
		PDFBytes: pdfBytes,
		PDFPath:  req.PDFPath,
		PDFURL:   req.PDFURL,
		HTML:     req.HTML,
		HTMLURL:  req.URL,
	}
	opts := spool.Options{
		PrinterName:     req.PrinterName,
		Copies:          req.Copies,
		PageSize:        req.PageSize,
		Margins:         req.Margins,
		PrintBackground: req.PrintBackground == nil || *req.PrintBackground,
		Metadata:        req.Metadata,
	}

	job, err := s.spooler.Enqueue(payload, opts, spool.Priority(req.Priority), "")
	if err != nil {
		switch {
		case errors.Is(err, spool.ErrInvalidPayload), errors.Is(err, spool.ErrHTMLNotSupported):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		case errors.Is(err, spool.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"jobId":     job.ID,
		"status":    string(job.Status),
		"timestamp": job.CreatedAt,
	})
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs := s.spooler.ListAll()
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, ok := s.spooler.Find(c.Param("jobId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, toJobView(job))
}

func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("jobId")
	if !s.spooler.Cancel(id) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "job not found or not cancellable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "job cancelled"})
}

func (s *Server) handleRetryJob(c *gin.Context) {
	id := c.Param("jobId")
	if !s.spooler.Retry(id) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "job not found or not retryable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "job queued for retry"})
}

func (s *Server) handleClearCompleted(c *gin.Context) {
	count := s.spooler.ClearCompleted()
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": count})
}

func (s *Server) handleStatus(c *gin.Context) {
	info := s.spooler.Status()
	resp := gin.H{
		"isProcessing":   info.IsProcessing,
		"queueLength":    info.QueueLength,
		"maxQueueSize":   info.MaxQueueSize,
		"defaultPrinter": info.DefaultPrinter,
	}
	if info.CurrentJob != nil {
		resp["currentJob"] = toJobView(*info.CurrentJob)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListPrinters(c *gin.Context) {
	infos := s.enumerator.List()

	// The configured default takes precedence over what the OS reports.
	if configured := s.settings.GetString(settings.KeyDefaultPrinter, ""); configured != "" {
		for i := range infos {
			infos[i].IsDefault = infos[i].Name == configured
		}
	}

	c.JSON(http.StatusOK, gin.H{"printers": infos})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.archiver == nil {
		c.JSON(http.StatusOK, gin.H{"history": []interface{}{}})
		return
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			limit = n
		}
	}

	records, err := s.archiver.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records})
}

func (s *Server) handleTestConnection(c *gin.Context) {
	if s.remote == nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "remote client not configured"})
		return
	}
	if err := s.remote.TestConnection(); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSetDefaultPrinter(c *gin.Context) {
	var req struct {
		PrinterName string `json:"printerName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := s.spooler.SetDefaultPrinter(req.PrinterName); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to persist default printer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "defaultPrinter": req.PrinterName})
}
