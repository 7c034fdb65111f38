package spool

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleverdesk/printing-agent/internal/settings"
)

// Materializer resolves a payload to a readable PDF on disk. owned reports
// whether the spooler must unlink the file when the job leaves the active set.
type Materializer interface {
	Materialize(ctx context.Context, p Payload) (path string, owned bool, err error)
}

// Executor hands a PDF file to the operating system's printing facility.
type Executor interface {
	Print(ctx context.Context, pdfPath, printerName string, copies int) error
}

type SettingsStore interface {
	GetString(key, def string) string
	GetInt(key string, def int) int
	GetDurationMs(key string, def time.Duration) time.Duration
	Set(key string, value interface{}) error
}

type EventType string

const (
	EventJobAdded     EventType = "jobAdded"
	EventJobUpdated   EventType = "jobUpdated"
	EventJobCompleted EventType = "jobCompleted"
	EventJobFailed    EventType = "jobFailed"
)

type Event struct {
	Type EventType
	Job  Job
	Err  string
}

// StatusInfo is a point-in-time view of the spooler.
type StatusInfo struct {
	IsProcessing   bool
	QueueLength    int
	MaxQueueSize   int
	CurrentJob     *Job
	DefaultPrinter string
}

// Spooler serializes print jobs through a single dispatch loop. At most one
// job is in flight at any instant; producers interact only through the
// mutex-guarded methods.
type Spooler struct {
	materializer Materializer
	executor     Executor
	settings     SettingsStore

	mu             sync.Mutex
	queue          []*Job
	current        *Job
	hist           *history
	serverInFlight map[string]struct{}
	subs           []chan Event
	accepting      bool
	isProcessing   bool

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

func New(m Materializer, e Executor, st SettingsStore, historySize int) *Spooler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Spooler{
		materializer:   m,
		executor:       e,
		settings:       st,
		hist:           newHistory(historySize),
		serverInFlight: make(map[string]struct{}),
		accepting:      true,
		wake:           make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (s *Spooler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Shutdown stops accepting jobs and waits up to 5 seconds for the in-flight
// job. Past the grace period the job is cancelled and the print context torn
// down.
func (s *Spooler) Shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.accepting = false
		s.mu.Unlock()

		close(s.stopCh)

		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			s.mu.Lock()
			if s.current != nil {
				s.current.cancelRequested = true
			}
			s.mu.Unlock()
			s.cancel()
			<-s.done
		}
		s.cancel()
	})
}

// Enqueue validates and queues a job. serverJobID is empty for locally
// submitted jobs.
func (s *Spooler) Enqueue(payload Payload, opts Options, priority Priority, serverJobID string) (Job, error) {
	if err := payload.validate(); err != nil {
		return Job{}, err
	}

	if !priority.valid() {
		priority = PriorityNormal
	}
	if opts.Copies < 1 {
		opts.Copies = 1
	}
	if opts.PageSize == "" {
		opts.PageSize = "A4"
	}

	maxQueue := s.settings.GetInt(settings.KeyMaxQueueSize, settings.DefaultMaxQueueSize)

	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return Job{}, ErrShuttingDown
	}
	if s.activeLenLocked() >= maxQueue {
		s.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	if serverJobID != "" {
		if _, dup := s.serverInFlight[serverJobID]; dup {
			s.mu.Unlock()
			return Job{}, ErrDuplicateServerJob
		}
		s.serverInFlight[serverJobID] = struct{}{}
	}

	job := &Job{
		ID:          uuid.NewString(),
		ServerJobID: serverJobID,
		CreatedAt:   time.Now(),
		Priority:    priority,
		Status:      StatusQueued,
		Payload:     payload,
		Options:     opts,
	}
	s.queue = append(s.queue, job)
	snapshot := job.clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventJobAdded, Job: snapshot})
	s.wakeLoop()

	return snapshot, nil
}

// Cancel removes a queued job immediately; an in-flight job is only flagged,
// the running print command is left alone and its result discarded.
func (s *Spooler) Cancel(id string) bool {
	s.mu.Lock()
	for i, j := range s.queue {
		if j.ID != id {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		j.Status = StatusCancelled
		tempPath := j.TempPath
		j.TempPath = ""
		s.hist.add(j.clone())
		s.dropServerIDLocked(j.ServerJobID)
		snapshot := j.clone()
		s.mu.Unlock()

		removeTemp(tempPath)
		s.publish(Event{Type: EventJobUpdated, Job: snapshot})
		return true
	}

	if s.current != nil && s.current.ID == id && !s.current.cancelRequested {
		s.current.cancelRequested = true
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	return false
}

// Retry re-queues a failed job from history at the tail with a fresh retry
// budget. Anything else is a no-op.
func (s *Spooler) Retry(id string) bool {
	maxQueue := s.settings.GetInt(settings.KeyMaxQueueSize, settings.DefaultMaxQueueSize)

	s.mu.Lock()
	job, ok := s.hist.find(id)
	if !ok || job.Status != StatusFailed {
		s.mu.Unlock()
		return false
	}
	if s.activeLenLocked() >= maxQueue {
		s.mu.Unlock()
		return false
	}
	s.hist.remove(id)

	j := job
	j.Status = StatusQueued
	j.RetryCount = 0
	j.LastError = ""
	if j.ServerJobID != "" {
		s.serverInFlight[j.ServerJobID] = struct{}{}
	}
	s.queue = append(s.queue, &j)
	snapshot := j.clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventJobUpdated, Job: snapshot})
	s.wakeLoop()
	return true
}

// ClearCompleted drops completed jobs from history and reports how many.
func (s *Spooler) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.clearCompleted()
}

// ListActive returns the in-flight job (if any) followed by the queue in
// dispatch-arrival order.
func (s *Spooler) ListActive() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.queue)+1)
	if s.current != nil {
		out = append(out, s.current.clone())
	}
	for _, j := range s.queue {
		out = append(out, j.clone())
	}
	return out
}

// ListAll returns active plus history, deduplicated by id, newest first.
func (s *Spooler) ListAll() []Job {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.queue)+1+len(s.hist.entries))
	seen := make(map[string]struct{})
	if s.current != nil {
		jobs = append(jobs, s.current.clone())
		seen[s.current.ID] = struct{}{}
	}
	for _, j := range s.queue {
		jobs = append(jobs, j.clone())
		seen[j.ID] = struct{}{}
	}
	for _, j := range s.hist.all() {
		if _, dup := seen[j.ID]; dup {
			continue
		}
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs
}

// Find looks up a job anywhere: queue, current, or history.
func (s *Spooler) Find(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.ID == id {
		return s.current.clone(), true
	}
	for _, j := range s.queue {
		if j.ID == id {
			return j.clone(), true
		}
	}
	return s.hist.find(id)
}

func (s *Spooler) Status() StatusInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := StatusInfo{
		IsProcessing:   s.isProcessing,
		QueueLength:    len(s.queue),
		MaxQueueSize:   s.settings.GetInt(settings.KeyMaxQueueSize, settings.DefaultMaxQueueSize),
		DefaultPrinter: s.settings.GetString(settings.KeyDefaultPrinter, ""),
	}
	if s.current != nil {
		c := s.current.clone()
		info.CurrentJob = &c
	}
	return info
}

func (s *Spooler) QueueFull() bool {
	maxQueue := s.settings.GetInt(settings.KeyMaxQueueSize, settings.DefaultMaxQueueSize)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLenLocked() >= maxQueue
}

// HasServerJob reports whether a server-originated job is queued or in flight.
func (s *Spooler) HasServerJob(serverJobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.serverInFlight[serverJobID]
	return ok
}

func (s *Spooler) SetDefaultPrinter(name string) error {
	return s.settings.Set(settings.KeyDefaultPrinter, name)
}

// Subscribe returns a buffered event channel. Slow subscribers drop events
// rather than stall the dispatch loop.
func (s *Spooler) Subscribe() chan Event {
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Spooler) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Spooler) publish(ev Event) {
	s.mu.Lock()
	subs := make([]chan Event, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Spooler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Spooler) activeLenLocked() int {
	n := len(s.queue)
	if s.current != nil {
		n++
	}
	return n
}

func (s *Spooler) dropServerIDLocked(serverJobID string) {
	if serverJobID != "" {
		delete(s.serverInFlight, serverJobID)
	}
}

func (s *Spooler) run() {
	defer close(s.done)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		job := s.next()
		if job == nil {
			select {
			case <-s.wake:
			case <-s.stopCh:
				return
			}
			continue
		}

		s.process(job)
	}
}

// next pops the highest-priority job; within a priority class the earliest
// queued wins. Re-evaluated on every pop so a fresh high overtakes queued
// normals.
func (s *Spooler) next() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}

	best := 0
	for i, j := range s.queue {
		if j.Priority.weight() > s.queue[best].Priority.weight() {
			best = i
		}
	}

	job := s.queue[best]
	s.queue = append(s.queue[:best], s.queue[best+1:]...)
	job.Status = StatusProcessing
	s.current = job
	s.isProcessing = true
	return job
}

func (s *Spooler) process(job *Job) {
	s.publishJob(EventJobUpdated, job, "")

	maxRetries := s.settings.GetInt(settings.KeyMaxRetries, settings.DefaultMaxRetries)
	retryDelay := s.settings.GetDurationMs(settings.KeyRetryDelay, settings.DefaultRetryDelayMs*time.Millisecond)

	path, owned, err := s.materializer.Materialize(s.ctx, job.Payload)
	if err != nil {
		if s.finishCancelled(job) {
			return
		}
		s.handleFailure(job, "materialize: "+err.Error(), maxRetries, retryDelay)
		return
	}
	if owned {
		s.mu.Lock()
		job.TempPath = path
		s.mu.Unlock()
	}

	if s.finishCancelled(job) {
		return
	}

	printerName := job.Options.PrinterName
	if printerName == "" {
		printerName = s.settings.GetString(settings.KeyDefaultPrinter, "")
	}

	s.mu.Lock()
	job.Status = StatusPrinting
	copies := job.Options.Copies
	s.mu.Unlock()
	s.publishJob(EventJobUpdated, job, "")

	printErr := s.executor.Print(s.ctx, path, printerName, copies)

	if s.finishCancelled(job) {
		return
	}
	if printErr != nil {
		s.handleFailure(job, printErr.Error(), maxRetries, retryDelay)
		return
	}

	s.cleanupTemp(job)
	s.mu.Lock()
	job.Status = StatusCompleted
	s.hist.add(job.clone())
	s.dropServerIDLocked(job.ServerJobID)
	s.current = nil
	s.isProcessing = false
	s.mu.Unlock()

	s.publishJob(EventJobCompleted, job, "")
}

// finishCancelled settles a job whose cancellation arrived while it was in
// flight: temp file removed, history updated, result suppressed.
func (s *Spooler) finishCancelled(job *Job) bool {
	s.mu.Lock()
	cancelled := job.cancelRequested
	s.mu.Unlock()
	if !cancelled {
		return false
	}

	s.cleanupTemp(job)
	s.mu.Lock()
	job.Status = StatusCancelled
	s.hist.add(job.clone())
	s.dropServerIDLocked(job.ServerJobID)
	s.current = nil
	s.isProcessing = false
	s.mu.Unlock()

	s.publishJob(EventJobUpdated, job, "")
	log.Printf("[spooler] job %s cancelled during print, result discarded", job.ID)
	return true
}

func (s *Spooler) handleFailure(job *Job, msg string, maxRetries int, retryDelay time.Duration) {
	s.cleanupTemp(job)

	s.mu.Lock()
	job.LastError = msg
	job.RetryCount++
	if job.RetryCount < maxRetries {
		job.Status = StatusQueued
		s.queue = append([]*Job{job}, s.queue...)
		s.current = nil
		s.isProcessing = false
		s.mu.Unlock()

		s.publishJob(EventJobUpdated, job, msg)
		log.Printf("[spooler] job %s failed (attempt %d/%d), retrying in %v: %s",
			job.ID, job.RetryCount, maxRetries, retryDelay, msg)

		select {
		case <-time.After(retryDelay):
		case <-s.stopCh:
		}
		return
	}

	job.Status = StatusFailed
	s.hist.add(job.clone())
	s.dropServerIDLocked(job.ServerJobID)
	s.current = nil
	s.isProcessing = false
	s.mu.Unlock()

	s.publishJob(EventJobFailed, job, msg)
	log.Printf("[spooler] job %s failed permanently after %d retries: %s", job.ID, job.RetryCount, msg)
}

func (s *Spooler) cleanupTemp(job *Job) {
	s.mu.Lock()
	path := job.TempPath
	job.TempPath = ""
	s.mu.Unlock()
	removeTemp(path)
}

func removeTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[spooler] failed to remove temp file %s: %v", path, err)
	}
}

func (s *Spooler) publishJob(t EventType, job *Job, errMsg string) {
	s.mu.Lock()
	snapshot := job.clone()
	s.mu.Unlock()
	s.publish(Event{Type: t, Job: snapshot, Err: errMsg})
}
