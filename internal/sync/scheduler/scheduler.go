// Package scheduler fires sync runs for registered tags once the remote API
// is reachable.
package scheduler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/teamsync/agent/internal/errors"
	"github.com/kimhsiao/teamsync/agent/internal/logging"
	syncpkg "github.com/kimhsiao/teamsync/agent/internal/sync"
)

// Runner performs one sync run.
type Runner interface {
	Run(ctx context.Context) (*syncpkg.RunResult, error)
}

// Prober reports whether the remote API is reachable.
type Prober interface {
	Online(ctx context.Context) bool
}

// HTTPProber probes <baseURL>/api/health. Any response below 500 counts as
// online.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a new HTTPProber.
func NewHTTPProber(baseURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		url:    strings.TrimRight(baseURL, "/") + "/api/health",
		client: &http.Client{Timeout: timeout},
	}
}

// Online implements Prober.
func (p *HTTPProber) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Scheduler manages sync registrations.
type Scheduler struct {
	runner        Runner
	prober        Prober
	probeInterval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	isRunning    bool
	stopped      bool
	isOnline     bool
	tags         map[string]uint64
	firing       map[string]bool
	lastSyncTime time.Time
	lastResult   *syncpkg.RunResult
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	ProbeInterval time.Duration // How often to probe connectivity (default: 30 seconds)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		ProbeInterval: 30 * time.Second,
	}
}

// NewScheduler creates a new Scheduler. A nil prober leaves the online status
// to SetOnlineStatus.
func NewScheduler(runner Runner, prober Prober, config *SchedulerConfig) *Scheduler {
	if config == nil || config.ProbeInterval <= 0 {
		config = DefaultSchedulerConfig()
	}

	return &Scheduler{
		runner:        runner,
		prober:        prober,
		probeInterval: config.ProbeInterval,
		stopCh:        make(chan struct{}),
		isOnline:      true, // Assume online until the first probe
		tags:          make(map[string]uint64),
		firing:        make(map[string]bool),
	}
}

// Start starts the probe loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.stopped {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	s.mu.Unlock()

	go s.probeLoop()

	logging.Info("Sync scheduler started",
		map[string]interface{}{"probe_interval_seconds": s.probeInterval.Seconds()})
}

// Stop stops the scheduler and waits for in-flight runs. Registrations are
// refused afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	wasRunning := s.isRunning
	s.isRunning = false
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	close(s.stopCh)
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if wasRunning {
		logging.Info("Sync scheduler stopped", nil)
	}
}

// Register records a sync opportunity under tag. When the scheduler is
// running and online the sync fires immediately.
func (s *Scheduler) Register(tag string) error {
	if strings.TrimSpace(tag) == "" {
		return errors.New(errors.ErrInvalid, "sync tag is required")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.New(errors.ErrInternal, "sync scheduler is stopped")
	}
	s.tags[tag]++
	s.mu.Unlock()

	logging.Debug("Sync tag registered", map[string]interface{}{"tag": tag})
	s.fireAll()
	return nil
}

// SetOnlineStatus changes the online status of the scheduler. Going online
// fires every pending tag.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
	if isOnline {
		s.fireAll()
	}
}

// probeLoop checks connectivity now and on every tick.
func (s *Scheduler) probeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		s.probe()

		select {
		case <-s.ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) probe() {
	if s.prober == nil {
		s.fireAll()
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.probeInterval)
	defer cancel()
	s.SetOnlineStatus(s.prober.Online(ctx))
}

// fireAll starts a run for each pending tag that is not already firing.
func (s *Scheduler) fireAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning || !s.isOnline {
		return
	}
	for tag, gen := range s.tags {
		if s.firing[tag] {
			continue
		}
		s.firing[tag] = true
		s.wg.Add(1)
		go s.fire(tag, gen)
	}
}

// fire runs one sync for tag. The tag is cleared when the run finishes
// without error and no newer registration arrived meanwhile.
func (s *Scheduler) fire(tag string, gen uint64) {
	defer s.wg.Done()

	result, err := s.runner.Run(s.ctx)

	s.mu.Lock()
	delete(s.firing, tag)
	completed := err == nil && (result == nil || !result.Interrupted)
	if completed {
		s.lastSyncTime = time.Now()
		s.lastResult = result
		if s.tags[tag] == gen {
			delete(s.tags, tag)
		}
	}
	// Registered again while this run was in flight.
	refire := completed && s.tags[tag] != 0 && s.tags[tag] != gen
	s.mu.Unlock()

	switch {
	case err == nil && completed:
		logging.Info("Sync fired", map[string]interface{}{"tag": tag})
	case errors.Is(err, errors.ErrSyncInProgress):
		logging.Debug("Sync already in progress, tag kept", map[string]interface{}{"tag": tag})
	case err != nil:
		logging.ErrorWithCode("Sync failed, tag kept", string(errors.CodeOf(err)), err,
			map[string]interface{}{"tag": tag})
	default:
		logging.Warn("Sync interrupted, tag kept", map[string]interface{}{"tag": tag})
	}

	if refire {
		s.fireAll()
	}
}

// SchedulerStatus reports the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool       `json:"isRunning"`
	IsOnline       bool       `json:"isOnline"`
	SyncInProgress bool       `json:"syncInProgress"`
	LastSyncTime   *time.Time `json:"lastSyncTime,omitempty"`
	PendingTags    []string   `json:"pendingTags"`
}

// Status returns the current status of the scheduler.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: len(s.firing) > 0,
		PendingTags:    make([]string, 0, len(s.tags)),
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	for tag := range s.tags {
		status.PendingTags = append(status.PendingTags, tag)
	}
	sort.Strings(status.PendingTags)
	return status
}

// LastResult returns the result of the last run that cleared a tag.
func (s *Scheduler) LastResult() *syncpkg.RunResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastResult
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
