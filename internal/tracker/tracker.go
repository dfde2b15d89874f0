// Package tracker implements the background coordination core: session
// lifecycle, activity buffering with privacy transforms, resilient
// delivery to the remote store, and local/remote state reconciliation.
//
// All process-wide mutable state (active session, activity buffer, task
// cache, config) lives on the Tracker and is mutated only through its
// methods under a single mutex. Operations that suspend (network sends,
// hashing) snapshot state first and never hold the lock across the
// suspension.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runnerr0/nobletrack/internal/config"
	"github.com/runnerr0/nobletrack/internal/metrics"
	"github.com/runnerr0/nobletrack/internal/record"
	"github.com/runnerr0/nobletrack/internal/sheets"
	"github.com/runnerr0/nobletrack/internal/storage"
)

const (
	// DataVersion tags the persisted state schema. A mismatch on startup
	// clears the volatile activity buffer but keeps the active session.
	DataVersion = 1

	// BufferCap bounds the pending activity buffer; oldest records are
	// dropped beyond it.
	BufferCap = 500

	heartbeatInterval = time.Second
	flushInterval     = 60 * time.Second
	sampleInterval    = 60 * time.Second
	idlePollInterval  = 15 * time.Second
)

// Tick is the periodic session snapshot broadcast to listeners while a
// session is active.
type Tick struct {
	Now     time.Time       `json:"now"`
	Session *record.Session `json:"activeSession"`
	Pending int             `json:"pending"`
}

// Notifier delivers user-visible notifications (idle auto-stop).
type Notifier interface {
	Notify(message string)
}

type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) Notify(message string) {
	n.log.Info("notification", "message", message)
}

// pageRef is the most recent page reported by the content observer, used
// by the periodic active-page sampler.
type pageRef struct {
	url   string
	title string
}

// Tracker owns the background core's state and timers.
type Tracker struct {
	mu      sync.Mutex
	cfg     *config.Config
	cfgPath string

	store    storage.Store
	client   *sheets.Client
	log      *slog.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	idle     IdleSource

	instanceID string
	clock      func() time.Time

	session      *record.Session
	buffer       []record.ActivityRecord
	tasks        []record.Task
	lastPage     *pageRef
	lastActivity time.Time
	flushing     bool
	wasIdle      bool

	subs map[chan Tick]struct{}

	heartbeatEvery time.Duration
	flushEvery     time.Duration
	sampleEvery    time.Duration
	idlePoll       time.Duration
}

// New creates a Tracker. cfgPath may be empty, in which case config
// reload requests keep the current config. metrics may be nil.
func New(cfg *config.Config, cfgPath string, store storage.Store, logger *slog.Logger, m *metrics.Metrics) *Tracker {
	t := &Tracker{
		cfg:        cfg,
		cfgPath:    cfgPath,
		store:      store,
		log:        logger.With("component", "tracker"),
		metrics:    m,
		instanceID: uuid.NewString(),
		clock:      time.Now,
		subs:       make(map[chan Tick]struct{}),

		heartbeatEvery: heartbeatInterval,
		flushEvery:     flushInterval,
		sampleEvery:    sampleInterval,
		idlePoll:       idlePollInterval,
	}
	t.notifier = logNotifier{log: t.log}
	t.idle = lastActivitySource{t: t}
	t.client = sheets.New(t, logger, m)
	return t
}

// Client exposes the remote-store client (for read paths).
func (t *Tracker) Client() *sheets.Client { return t.client }

// EndpointURL implements sheets.ConfigSource.
func (t *Tracker) EndpointURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.EndpointURL()
}

// SharedSecret implements sheets.ConfigSource.
func (t *Tracker) SharedSecret() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.Remote.SharedSecret
}

// TelemetryEnabled implements sheets.ConfigSource.
func (t *Tracker) TelemetryEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.Remote.Telemetry
}

// ReloadConfig re-reads the config file and swaps it in. Handles the
// CONFIG_UPDATED message and the delivery pipeline's one automatic
// reload on a missing endpoint. Idle threshold changes take effect on
// the next idle poll.
func (t *Tracker) ReloadConfig() error {
	if t.cfgPath == "" {
		return nil
	}
	cfg, err := config.Load(t.cfgPath)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.cfg = cfg
	t.mu.Unlock()
	t.log.Info("config reloaded", "endpoint_configured", cfg.EndpointURL() != "")
	return nil
}

// Restore loads persisted state and reconciles with the remote store.
// Called once before Run.
func (t *Tracker) Restore(ctx context.Context) error {
	v, err := t.store.DataVersion(ctx)
	if err != nil {
		return err
	}
	if v != DataVersion {
		// Migration: clear volatile buffer, keep the active session.
		if err := t.store.ClearBuffer(ctx); err != nil {
			return err
		}
		if err := t.store.SetDataVersion(ctx, DataVersion); err != nil {
			return err
		}
		t.log.Info("data version migrated", "from", v, "to", DataVersion)
	}

	sess, err := t.store.LoadSession(ctx)
	if err != nil {
		return err
	}
	buf, err := t.store.LoadBuffer(ctx)
	if err != nil {
		return err
	}
	tasks, err := t.store.LoadTasks(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.session = sess
	t.buffer = buf
	t.tasks = tasks
	t.lastActivity = t.clock()
	t.mu.Unlock()
	t.metrics.SetBufferDepth(len(buf))

	if sess != nil {
		t.log.Info("restored active session", "user", sess.User, "start", sess.Start)
	}
	if len(buf) > 0 {
		t.log.Info("restored pending activity buffer", "records", len(buf))
	}

	// Best-effort task hydration so listeners have tasks after a restart.
	t.hydrateTasks(ctx)
	return nil
}

// Run drives the periodic work: heartbeat ticks, activity flushes,
// active-page sampling, and idle detection. Blocks until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	heartbeat := time.NewTicker(t.heartbeatEvery)
	defer heartbeat.Stop()
	flush := time.NewTicker(t.flushEvery)
	defer flush.Stop()
	sample := time.NewTicker(t.sampleEvery)
	defer sample.Stop()
	idle := time.NewTicker(t.idlePoll)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-heartbeat.C:
			t.heartbeatTick(now)
		case <-flush.C:
			// Flush retries can take minutes; keep the heartbeat alive.
			go func() {
				if _, err := t.Flush(ctx); err != nil {
					t.log.Warn("scheduled flush failed, batch re-queued", "error", err)
				}
			}()
		case <-sample.C:
			t.sampleActivePage(ctx)
		case <-idle.C:
			t.pollIdle(ctx)
		}
	}
}

// heartbeatTick updates the session liveness marker and broadcasts the
// current snapshot. Persisted state is deliberately untouched here to
// bound write volume.
func (t *Tracker) heartbeatTick(now time.Time) {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return
	}
	t.session.LastTick = now
	tick := Tick{Now: now, Session: copySession(t.session), Pending: len(t.buffer)}
	t.mu.Unlock()

	t.broadcast(tick)
}

// Subscribe registers a tick listener. The returned cancel function must
// be called to release it. Slow listeners miss ticks rather than block
// the heartbeat.
func (t *Tracker) Subscribe() (<-chan Tick, func()) {
	ch := make(chan Tick, 8)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		delete(t.subs, ch)
		t.mu.Unlock()
	}
	return ch, cancel
}

func (t *Tracker) broadcast(tick Tick) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- tick:
		default:
		}
	}
}

// ConfigSummary is the safe-to-expose view of the live config. The
// shared secret itself never leaves the process.
type ConfigSummary struct {
	EndpointConfigured bool     `json:"endpointConfigured"`
	ConsentLogging     bool     `json:"consentLogging"`
	HasSecret          bool     `json:"hasSecret"`
	DomainOnly         bool     `json:"domainOnlyLogging"`
	AnonymizeURLs      bool     `json:"anonymizeUrls"`
	OmitTitles         bool     `json:"omitTitles"`
	Telemetry          bool     `json:"enableTelemetry"`
	IdleMinutes        int      `json:"idleMinutes"`
	Users              []string `json:"users"`
}

// State is the GET_STATE response payload.
type State struct {
	Session *record.Session `json:"activeSession"`
	Tasks   []record.Task   `json:"tasks"`
	Pending int             `json:"pending"`
	Config  ConfigSummary   `json:"config"`
}

// State returns a consistent snapshot of session, task cache, pending
// count, and config summary.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	tasks := make([]record.Task, len(t.tasks))
	copy(tasks, t.tasks)

	return State{
		Session: copySession(t.session),
		Tasks:   tasks,
		Pending: len(t.buffer),
		Config: ConfigSummary{
			EndpointConfigured: t.cfg.EndpointURL() != "",
			ConsentLogging:     t.cfg.Privacy.ConsentLogging,
			HasSecret:          t.cfg.HasSecret(),
			DomainOnly:         t.cfg.Privacy.DomainOnly,
			AnonymizeURLs:      t.cfg.Privacy.AnonymizeURLs,
			OmitTitles:         t.cfg.Privacy.OmitTitles,
			Telemetry:          t.cfg.Remote.Telemetry,
			IdleMinutes:        t.cfg.Tracking.IdleMinutes,
			Users:              t.cfg.Tracking.Users,
		},
	}
}

// copySession deep-copies a session so snapshots handed to listeners
// cannot race with coordinator mutations. Returns nil for nil.
func copySession(s *record.Session) *record.Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Domains = append([]string(nil), s.Domains...)
	out.Docs = append([]string(nil), s.Docs...)
	return &out
}
