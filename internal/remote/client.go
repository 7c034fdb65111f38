package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cleverdesk/printing-agent/internal/settings"
	"github.com/cleverdesk/printing-agent/internal/spool"
)

const (
	pendingJobsPath = "/api/command-center/printing/pending-jobs"
	heartbeatPath   = "/api/command-center/printing/heartbeat"
	healthPath      = "/api/print-jobs/health"

	pendingJobsLimit = 10
	requestTimeout   = 10 * time.Second
)

type SettingsStore interface {
	GetString(key, def string) string
	GetDurationMs(key string, def time.Duration) time.Duration
}

type Spooler interface {
	Enqueue(p spool.Payload, opts spool.Options, priority spool.Priority, serverJobID string) (spool.Job, error)
	QueueFull() bool
	HasServerJob(serverJobID string) bool
	Subscribe() chan spool.Event
	Unsubscribe(ch chan spool.Event)
}

// Client polls the command center for pending jobs, mirrors terminal job
// states back, and sends liveness heartbeats. Everything is disabled while
// serverBaseUrl is unset.
type Client struct {
	settings   SettingsStore
	spooler    Spooler
	httpClient *http.Client
	version    string

	events chan spool.Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

func New(st SettingsStore, sp Spooler, version string) *Client {
	return &Client{
		settings:   st,
		spooler:    sp,
		httpClient: &http.Client{Timeout: requestTimeout},
		version:    version,
		stopCh:     make(chan struct{}),
	}
}

func (c *Client) baseURL() string {
	return strings.TrimRight(c.settings.GetString(settings.KeyServerBaseURL, ""), "/")
}

func (c *Client) Start() {
	c.startOnce.Do(func() {
		if c.baseURL() == "" {
			log.Printf("[remote] serverBaseUrl not configured, remote client disabled")
			return
		}
		c.started = true

		c.events = c.spooler.Subscribe()

		c.wg.Add(3)
		go c.pollLoop()
		go c.heartbeatLoop()
		go c.eventLoop()
	})
}

// Stop halts the loops and sends a final offline heartbeat best effort.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if !c.started {
			return
		}
		c.spooler.Unsubscribe(c.events)
		c.wg.Wait()
		c.sendHeartbeat("offline", "")
	})
}

func (c *Client) pollLoop() {
	defer c.wg.Done()

	interval := c.settings.GetDurationMs(settings.KeyPollInterval, settings.DefaultPollIntervalMs*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	interval := c.settings.GetDurationMs(settings.KeyHeartbeatInterval, settings.DefaultHeartbeatMs*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.sendHeartbeat("online", "")

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.sendHeartbeat("online", "")
		}
	}
}

// eventLoop mirrors terminal states of server-originated jobs. Locally
// submitted jobs never leave the agent.
func (c *Client) eventLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			if ev.Job.ServerJobID == "" {
				continue
			}
			switch {
			case ev.Type == spool.EventJobCompleted:
				c.reportStatus(ev.Job.ServerJobID, "printed", "")
			case ev.Type == spool.EventJobFailed:
				c.reportStatus(ev.Job.ServerJobID, "failed", ev.Job.LastError)
			case ev.Type == spool.EventJobUpdated && ev.Job.Status == spool.StatusCancelled:
				c.reportStatus(ev.Job.ServerJobID, "failed", "cancelled by operator")
			}
		}
	}
}

// pendingJob is the wire shape of one job delivered by the command center.
type pendingJob struct {
	ID              flexID        `json:"id"`
	PDF             string        `json:"pdf"`
	PDFBase64       string        `json:"pdfBase64"`
	PDFPath         string        `json:"pdfPath"`
	PDFURL          string        `json:"pdfUrl"`
	HTML            string        `json:"html"`
	HTMLURL         string        `json:"url"`
	PrinterName     string        `json:"printerName"`
	Priority        string        `json:"priority"`
	Copies          int           `json:"copies"`
	PageSize        string        `json:"pageSize"`
	Margins         spool.Margins `json:"margins"`
	PrintBackground *bool         `json:"printBackground"`
}

// flexID accepts both string and numeric job identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("job id must be a string or number: %s", data)
	}
	*f = flexID(n.String())
	return nil
}

func (c *Client) pollOnce() {
	url := fmt.Sprintf("%s%s?limit=%d", c.baseURL(), pendingJobsPath, pendingJobsLimit)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Printf("[remote] build poll request: %v", err)
		return
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[remote] poll failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[remote] poll returned status %d", resp.StatusCode)
		return
	}

	var body struct {
		Jobs []pendingJob `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("[remote] decode pending jobs: %v", err)
		return
	}

	for _, pj := range body.Jobs {
		serverID := string(pj.ID)
		if serverID == "" || c.spooler.HasServerJob(serverID) {
			continue
		}

		// A full queue stops the whole batch without acking; the server
		// redelivers on the next poll.
		if c.spooler.QueueFull() {
			log.Printf("[remote] queue full, deferring %s and the rest of the batch", serverID)
			return
		}

		payload, opts, priority := translate(pj)
		if _, err := c.spooler.Enqueue(payload, opts, priority, serverID); err != nil {
			if err == spool.ErrQueueFull {
				return
			}
			log.Printf("[remote] rejecting server job %s: %v", serverID, err)
			c.reportStatus(serverID, "failed", err.Error())
		}
	}
}

// translate maps the wire job one-for-one onto a spooler payload. When both
// pdf and pdfBase64 are present, pdfBase64 wins.
func translate(pj pendingJob) (spool.Payload, spool.Options, spool.Priority) {
	pdfBytes := pj.PDFBase64
	if pdfBytes == "" {
		pdfBytes = pj.PDF
	}

	payload := spool.Payload{
		PDFBytes: pdfBytes,
		PDFPath:  pj.PDFPath,
		PDFURL:   pj.PDFURL,
		HTML:     pj.HTML,
		HTMLURL:  pj.HTMLURL,
	}

	opts := spool.Options{
		PrinterName:     pj.PrinterName,
		Copies:          pj.Copies,
		PageSize:        pj.PageSize,
		Margins:         pj.Margins,
		PrintBackground: pj.PrintBackground == nil || *pj.PrintBackground,
	}

	return payload, opts, spool.Priority(pj.Priority)
}

func (c *Client) reportStatus(serverJobID, status, errMsg string) {
	body := map[string]string{"status": status}
	if errMsg != "" {
		body["errorMessage"] = errMsg
	}

	url := fmt.Sprintf("%s/api/command-center/printing/jobs/%s/status", c.baseURL(), serverJobID)
	resp, err := c.post(url, body)
	if err != nil {
		log.Printf("[remote] status report for %s failed: %v", serverJobID, err)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		log.Printf("[remote] status report for %s returned %d", serverJobID, resp.StatusCode)
	}
}

func (c *Client) sendHeartbeat(status, errMsg string) {
	hostname, _ := os.Hostname()
	body := map[string]string{
		"hostname":     hostname,
		"agentVersion": c.version,
		"status":       status,
	}
	if errMsg != "" {
		body["errorMessage"] = errMsg
	}

	resp, err := c.post(c.baseURL()+heartbeatPath, body)
	if err != nil {
		log.Printf("[remote] heartbeat failed: %v", err)
		return
	}
	resp.Body.Close()
}

// TestConnection probes the server health endpoint and maps transport
// failures to operator-readable messages.
func (c *Client) TestConnection() error {
	base := c.baseURL()
	if base == "" {
		return fmt.Errorf("serverBaseUrl is not configured")
	}

	req, err := http.NewRequest(http.MethodGet, base+healthPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return friendlyTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server responded with status %d", resp.StatusCode)
	}
	return nil
}

func friendlyTransportError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("server is not reachable (connection refused)")
	case strings.Contains(msg, "no such host"):
		return fmt.Errorf("server hostname could not be resolved")
	case strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("connection to server timed out")
	}
	return err
}

func (c *Client) post(url string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	return c.httpClient.Do(req)
}

// setHeaders applies the content type, agent identification, and the
// configured credential. A key already carrying a bearer prefix is forwarded
// verbatim; anything else goes out as both X-API-Key and a bearer token.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CleverPrintingAgent/"+c.version)

	key := c.settings.GetString(settings.KeyAPIKey, "")
	if key == "" {
		return
	}
	if strings.HasPrefix(strings.ToLower(key), "bearer ") {
		req.Header.Set("Authorization", key)
		return
	}
	req.Header.Set("X-API-Key", key)
	req.Header.Set("Authorization", "Bearer "+key)
}
