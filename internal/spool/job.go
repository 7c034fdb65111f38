package spool

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrQueueFull          = errors.New("print queue is full")
	ErrInvalidPayload     = errors.New("job has no printable payload")
	ErrHTMLNotSupported   = errors.New("html payloads are not supported, submit a PDF instead")
	ErrDuplicateServerJob = errors.New("server job is already in flight")
	ErrShuttingDown       = errors.New("spooler is shutting down")
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusPrinting   Status = "printing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a job in this status has left the active set.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) weight() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	}
	return 1
}

func (p Priority) valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// Payload describes what to print. Exactly one field must be set.
type Payload struct {
	// PDFBytes holds raw or base64-encoded PDF content, optionally with a
	// data:application/pdf;base64, prefix.
	PDFBytes string
	// PDFPath points at a PDF already on this machine's filesystem.
	PDFPath string
	// PDFURL is downloaded over HTTP(S).
	PDFURL string
	// HTML and HTMLURL are legacy variants. They are recognized so the
	// validation error can say so, but the agent no longer renders HTML.
	HTML    string
	HTMLURL string
}

func (p Payload) validate() error {
	set := 0
	html := false
	for _, v := range []struct {
		value  string
		isHTML bool
	}{
		{p.PDFBytes, false},
		{p.PDFPath, false},
		{p.PDFURL, false},
		{p.HTML, true},
		{p.HTMLURL, true},
	} {
		if v.value != "" {
			set++
			html = html || v.isHTML
		}
	}
	if set == 0 {
		return ErrInvalidPayload
	}
	if set > 1 {
		return fmt.Errorf("%w: more than one payload variant is set", ErrInvalidPayload)
	}
	if html {
		return ErrHTMLNotSupported
	}
	return nil
}

type Margins struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

type Options struct {
	PrinterName     string
	Copies          int
	PageSize        string
	Margins         Margins
	PrintBackground bool
	Metadata        map[string]interface{}
}

// Job is the unit of work owned by the spooler. Mutations happen only inside
// the spooler's critical section; callers receive copies.
type Job struct {
	ID          string
	ServerJobID string
	CreatedAt   time.Time
	Priority    Priority
	Status      Status
	RetryCount  int
	LastError   string
	Payload     Payload
	Options     Options

	// TempPath is set while the job owns a materialized temp PDF.
	TempPath string

	// cancelRequested marks an in-flight job whose result must be discarded.
	cancelRequested bool
}

func (j *Job) clone() Job {
	c := *j
	c.cancelRequested = false
	return c
}
