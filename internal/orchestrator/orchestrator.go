// Package orchestrator owns the click-session lifecycle: it reacts to
// triggers, opens the portal tab, hands work to the page agent over the
// message bus and records the outcome. All session state transitions
// happen here; the agent only carries identifiers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shehryarbajwa/checkin-mini/internal/authstate"
	"github.com/shehryarbajwa/checkin-mini/internal/bus"
	"github.com/shehryarbajwa/checkin-mini/internal/config"
	"github.com/shehryarbajwa/checkin-mini/internal/notify"
	"github.com/shehryarbajwa/checkin-mini/internal/ratelimit"
	"github.com/shehryarbajwa/checkin-mini/internal/relay"
	"github.com/shehryarbajwa/checkin-mini/internal/schedule"
	"github.com/shehryarbajwa/checkin-mini/internal/store"
	"github.com/shehryarbajwa/checkin-mini/internal/tabs"
	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// ErrCheckInFlight is returned when a trigger arrives while another
// check still holds the in-flight slot.
var ErrCheckInFlight = errors.New("another check is already in flight")

// ErrRateLimited is returned when a trigger source exceeds its budget.
var ErrRateLimited = errors.New("trigger rate limit exceeded")

// Orchestrator coordinates sessions, tabs, the page agent and the
// daily schedule.
type Orchestrator struct {
	store   *store.Store
	bus     *bus.Bus
	tabs    *tabs.Manager
	relay   *relay.Client
	auth    *authstate.Record
	limiter *ratelimit.Limiter
	sched   *schedule.Scheduler
	webhook notify.Notifier

	spawnMu sync.RWMutex
	spawn   func(tab tabs.Tab)

	cfgMu   sync.Mutex
	cfg     *config.Config
	cfgPath string

	sweepEvery time.Duration

	slotMu sync.Mutex
	slots  map[string]struct{}
}

// New wires the orchestrator into the bus and the relay. cfgPath may be
// empty, in which case schedule changes are not persisted.
func New(cfg *config.Config, cfgPath string, st *store.Store, b *bus.Bus, tm *tabs.Manager, rl *relay.Client) (*Orchestrator, error) {
	o := &Orchestrator{
		store:   st,
		bus:     b,
		tabs:    tm,
		relay:   rl,
		auth:    authstate.New(cfg.Timing.FreshnessWindow()),
		limiter: ratelimit.NewLimiter(cfg.Server.TriggersPerHour, cfg.Server.TriggerBurst),
		cfg:        cfg,
		cfgPath:    cfgPath,
		sweepEvery: time.Minute,
		slots:      make(map[string]struct{}),
	}
	o.sched = schedule.NewScheduler(o.fireScheduled)

	if cfg.Notify.WebhookURL != "" {
		o.webhook = notify.NewWebhookNotifier(cfg.Notify.WebhookURL)
	}

	// The login cookie is set by the portal on a successful login call,
	// and any 401/403 means it no longer holds.
	loginURL := cfg.Target.LoginURL
	baseURL := cfg.Target.BaseURL
	rl.OnResponse(func(requestURL string, status int) {
		switch {
		case requestURL == loginURL && status >= 200 && status < 300:
			o.auth.MarkLoggedIn(rl.SessionCookie(baseURL, ""))
		case status == 401 || status == 403:
			o.auth.Invalidate()
		}
	})

	if err := o.registerHandlers(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) registerHandlers() error {
	handlers := []struct {
		kind bus.Kind
		fn   bus.HandlerFunc
	}{
		{bus.KindRunCheckNow, o.handleRunCheckNow},
		{bus.KindContentScriptReady, o.handleContentScriptReady},
		{bus.KindLoginSuccessful, o.handleLoginSuccessful},
		{bus.KindPresenceComplete, o.handlePresenceComplete},
		{bus.KindProxyFetch, o.handleProxyFetch},
		{bus.KindScheduleAlarm, o.handleScheduleAlarm},
		{bus.KindAuthStateQuery, o.handleAuthStateQuery},
	}
	for _, h := range handlers {
		if err := o.bus.Handle(h.kind, h.fn); err != nil {
			return fmt.Errorf("registering %s handler: %w", h.kind, err)
		}
	}
	return nil
}

// SetSpawn installs the factory that attaches a page agent to a tab.
// It must be set before the first trigger.
func (o *Orchestrator) SetSpawn(fn func(tab tabs.Tab)) {
	o.spawnMu.Lock()
	defer o.spawnMu.Unlock()
	o.spawn = fn
}

// Start arms the persisted schedule and begins sweeping expired
// sessions. It returns immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	o.sched.Set(o.scheduleConfig())
	if next, ok := o.sched.NextFire(); ok {
		log.Printf("⏰ Daily check scheduled for %s", next.Format(time.RFC3339))
	}
	go o.sweepLoop(ctx)
}

// Stop disarms the schedule.
func (o *Orchestrator) Stop() {
	o.sched.Clear()
}

// TriggerCheck starts one check run. An empty sessionID gets a fresh
// one; the process id is always generated per run.
func (o *Orchestrator) TriggerCheck(ctx context.Context, sessionID, source string) (*models.ClickSession, error) {
	if !o.limiter.Allow(source) {
		return nil, fmt.Errorf("%w for source %q", ErrRateLimited, source)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	processID := uuid.New().String()

	if !o.tabs.TryAcquire() {
		return nil, ErrCheckInFlight
	}
	o.holdSlot(sessionID)

	sess := o.store.Create(sessionID, processID, source)
	log.Printf("🚀 Check triggered (session %s, source %s)", sessionID, source)

	target := o.targetConfig()
	tab, err := o.tabs.FindOrCreate(ctx, target.BaseURL, target.HomeURL)
	if err != nil {
		// The session stays in PROCESSING; the sweeper will expire it
		// and free the slot.
		log.Printf("❌ Could not open portal tab for session %s: %v", sessionID, err)
		return sess, nil
	}

	if o.store.ActiveByTab(tab.ID()) {
		o.failSession(sessionID, -1, "another session is already active on this tab")
		return nil, ErrCheckInFlight
	}

	if err := o.store.AttachTab(sessionID, tab.ID()); err != nil {
		o.releaseSlot(sessionID)
		return nil, err
	}

	o.spawnMu.RLock()
	spawn := o.spawn
	o.spawnMu.RUnlock()
	if spawn != nil {
		spawn(tab)
	}

	if cur, err := o.store.Get(sessionID); err == nil {
		sess = cur
	}
	return sess, nil
}

// OnPageReady is the tab-load signal. It races with the page agent's
// ready announcement; the status transition makes sure only one of
// them dispatches the check-in.
func (o *Orchestrator) OnPageReady(tabID int) {
	o.dispatchCheckIn(tabID)
}

func (o *Orchestrator) dispatchCheckIn(tabID int) {
	id, ok := o.store.FindWaitingByTab(tabID)
	if !ok {
		return
	}
	if !o.store.Transition(id, models.StatusInProgress, models.StatusProcessing, models.StatusAwaitingHomeLoad) {
		// Lost the race to another ready signal.
		return
	}
	sess, err := o.store.Get(id)
	if err != nil {
		return
	}

	env := bus.Envelope{
		Kind:  bus.KindCheckIn,
		TabID: tabID,
		Payload: models.CheckInPayload{
			SessionID: id,
			ProcessID: sess.ProcessID,
		},
	}
	if err := o.bus.DeliverTab(env); err != nil {
		log.Printf("⚠️ Check-in for session %s not delivered: %v", id, err)
		o.failSession(id, tabID, "page agent unreachable")
		return
	}
	log.Printf("📨 Check-in dispatched to tab %d (session %s)", tabID, id)
}

func (o *Orchestrator) handleRunCheckNow(ctx context.Context, env bus.Envelope) (any, error) {
	req, ok := env.Payload.(models.TriggerCheckRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected trigger payload %T", env.Payload)
	}
	return o.TriggerCheck(ctx, req.SessionID, "manual")
}

func (o *Orchestrator) handleContentScriptReady(ctx context.Context, env bus.Envelope) (any, error) {
	o.dispatchCheckIn(env.TabID)
	return nil, nil
}

// handleLoginSuccessful navigates the freshly authenticated tab to the
// dashboard and re-arms the session so the next page-ready signal
// dispatches a second check-in pass.
func (o *Orchestrator) handleLoginSuccessful(ctx context.Context, env bus.Envelope) (any, error) {
	sessionID, ok := env.Payload.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected login payload %T", env.Payload)
	}

	if !o.store.Transition(sessionID, models.StatusLoginCompleted, models.StatusInProgress) {
		return nil, fmt.Errorf("session %s is not in progress", sessionID)
	}
	log.Printf("🔑 Login completed for session %s", sessionID)

	target := o.targetConfig()
	o.auth.MarkLoggedIn(o.relay.SessionCookie(target.BaseURL, ""))

	sess, err := o.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	tab, ok := o.tabs.Get(sess.TabID)
	if !ok {
		o.failSession(sessionID, sess.TabID, "tab disappeared after login")
		return nil, fmt.Errorf("tab %d for session %s is gone", sess.TabID, sessionID)
	}
	if err := tab.Navigate(ctx, target.HomeURL); err != nil {
		o.failSession(sessionID, sess.TabID, fmt.Sprintf("dashboard navigation failed: %v", err))
		return nil, err
	}

	o.store.Transition(sessionID, models.StatusAwaitingHomeLoad, models.StatusLoginCompleted)
	// The browser's own load event may have fired while the session was
	// still LOGIN_COMPLETED, so re-fire the dispatch explicitly.
	o.dispatchCheckIn(sess.TabID)
	return nil, nil
}

func (o *Orchestrator) handlePresenceComplete(ctx context.Context, env bus.Envelope) (any, error) {
	report, ok := env.Payload.(models.CheckReport)
	if !ok {
		return nil, fmt.Errorf("unexpected completion payload %T", env.Payload)
	}

	if report.Success {
		// The portal API call finished before the session closes out.
		o.store.Transition(report.SessionID, models.StatusApiCompleted, models.StatusInProgress)
	}
	if err := o.store.Complete(report.SessionID, report.Success, report.Reason); err != nil {
		log.Printf("⚠️ Completion report for unknown session %s: %v", report.SessionID, err)
	}
	o.releaseSlot(report.SessionID)

	// The agent's run is over either way; drop its delivery channel so
	// the next run on this tab starts from a fresh subscription.
	o.bus.UnsubscribeTab(report.TabID)

	if report.Success {
		o.tabs.CloseAfter(report.TabID, o.timingConfig().CloseGrace())
	} else {
		// The tab is left open for inspection but no longer tracked.
		o.tabs.Forget(report.TabID)
	}

	go o.notifier().Notify(context.Background(), report)
	return "ack", nil
}

func (o *Orchestrator) handleProxyFetch(ctx context.Context, env bus.Envelope) (any, error) {
	req, ok := env.Payload.(models.FetchRequest)
	if !ok {
		return nil, fmt.Errorf("unexpected fetch payload %T", env.Payload)
	}
	res := o.relay.Do(ctx, req.Method, req.URL, req.Headers, req.Body)
	return models.FetchResult{
		OK:         res.OK,
		Status:     res.Status,
		StatusText: res.StatusText,
		Body:       res.Body,
		Error:      res.Error,
	}, nil
}

func (o *Orchestrator) handleScheduleAlarm(ctx context.Context, env bus.Envelope) (any, error) {
	sc, ok := env.Payload.(models.ScheduleConfig)
	if !ok {
		return nil, fmt.Errorf("unexpected schedule payload %T", env.Payload)
	}
	if err := o.SetSchedule(sc); err != nil {
		return nil, err
	}
	return o.Schedule(), nil
}

func (o *Orchestrator) handleAuthStateQuery(ctx context.Context, env bus.Envelope) (any, error) {
	return o.auth.Query(), nil
}

// SetSchedule replaces the daily-trigger preference, re-arms the timer
// and persists the change.
func (o *Orchestrator) SetSchedule(sc models.ScheduleConfig) error {
	if sc.Hour < 0 || sc.Hour > 23 {
		return fmt.Errorf("schedule hour out of range: %d", sc.Hour)
	}
	if sc.Minute < 0 || sc.Minute > 59 {
		return fmt.Errorf("schedule minute out of range: %d", sc.Minute)
	}

	o.cfgMu.Lock()
	o.cfg.Schedule = sc
	snapshot := *o.cfg
	cfgPath := o.cfgPath
	o.cfgMu.Unlock()

	o.sched.Set(sc)
	if next, ok := o.sched.NextFire(); ok {
		log.Printf("⏰ Daily check rescheduled for %s", next.Format(time.RFC3339))
	} else {
		log.Printf("⏰ Daily check disabled")
	}

	if cfgPath != "" {
		if err := config.WriteConfig(cfgPath, &snapshot); err != nil {
			// The timer is armed either way; losing persistence only
			// matters across a restart.
			log.Printf("⚠️ Could not persist schedule: %v", err)
		}
	}
	return nil
}

// Schedule returns the current daily-trigger preference.
func (o *Orchestrator) Schedule() models.ScheduleConfig {
	return o.scheduleConfig()
}

// NextFire reports when the daily trigger will fire next.
func (o *Orchestrator) NextFire() (time.Time, bool) {
	return o.sched.NextFire()
}

// Limiter exposes the trigger limiter for read-only budget reporting.
func (o *Orchestrator) Limiter() *ratelimit.Limiter {
	return o.limiter
}

// AuthState returns the current authentication record.
func (o *Orchestrator) AuthState() models.AuthState {
	return o.auth.Query()
}

func (o *Orchestrator) fireScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Printf("⏰ Daily alarm fired")
	if _, err := o.TriggerCheck(ctx, "", "alarm"); err != nil {
		log.Printf("⚠️ Scheduled check not started: %v", err)
	}
}

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range o.store.SweepExpired() {
				log.Printf("🧹 Session %s expired before completion", id)
				if sess, err := o.store.Get(id); err == nil && sess.TabID >= 0 {
					o.bus.UnsubscribeTab(sess.TabID)
					o.tabs.Forget(sess.TabID)
				}
				o.releaseSlot(id)
			}
		}
	}
}

// failSession closes a session out as an error and releases everything
// the run held. tabID may be -1 when no tab was ever attached.
func (o *Orchestrator) failSession(sessionID string, tabID int, reason string) {
	if err := o.store.Complete(sessionID, false, reason); err != nil {
		log.Printf("⚠️ Could not fail session %s: %v", sessionID, err)
	}
	o.releaseSlot(sessionID)

	if tabID >= 0 {
		o.bus.UnsubscribeTab(tabID)
		o.tabs.Forget(tabID)
	}
}

func (o *Orchestrator) notifier() notify.Notifier {
	if o.scheduleConfig().Notify && o.webhook != nil {
		return notify.Multi{notify.LogNotifier{}, o.webhook}
	}
	return notify.LogNotifier{}
}

func (o *Orchestrator) holdSlot(sessionID string) {
	o.slotMu.Lock()
	defer o.slotMu.Unlock()
	o.slots[sessionID] = struct{}{}
}

func (o *Orchestrator) releaseSlot(sessionID string) {
	o.slotMu.Lock()
	_, held := o.slots[sessionID]
	delete(o.slots, sessionID)
	o.slotMu.Unlock()
	if held {
		o.tabs.Release()
	}
}

func (o *Orchestrator) targetConfig() config.TargetConfig {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.cfg.Target
}

func (o *Orchestrator) timingConfig() config.Timing {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.cfg.Timing
}

func (o *Orchestrator) scheduleConfig() models.ScheduleConfig {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.cfg.Schedule
}
