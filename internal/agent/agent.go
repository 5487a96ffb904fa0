// Package agent drives a loaded portal tab through the daily check-in:
// session probe, login, dashboard wait, presence check, click, confirm.
// It never touches orchestrator state directly; everything flows through
// messages and the injected tab driver.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shehryarbajwa/checkin-mini/internal/config"
	"github.com/shehryarbajwa/checkin-mini/internal/secrets"
	"github.com/shehryarbajwa/checkin-mini/internal/tabs"
	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// Fetcher relays HTTP calls through the privileged cookie-bearing client.
type Fetcher interface {
	Fetch(ctx context.Context, req models.FetchRequest) models.FetchResult
}

// AuthQuerier asks the orchestrator whether re-login can be skipped.
type AuthQuerier interface {
	AuthState(ctx context.Context) (models.AuthState, error)
}

// Reporter carries the agent's outbound messages.
type Reporter interface {
	Ready(ctx context.Context) error
	LoginSuccessful(ctx context.Context, sessionID string) error
	Complete(ctx context.Context, report models.CheckReport) error
}

// Config is the slice of configuration the agent needs.
type Config struct {
	HomeURL        string
	ProbeURL       string
	LoginURL       string
	LoginProvider  string
	Selectors      config.Selectors
	ServerError    config.ServerErrorPolicy
	MissingControl config.MissingControlPolicy

	PollInterval      time.Duration
	DashboardDeadline time.Duration
	ConfirmRetries    int
}

// Agent runs the check-in flow against one tab.
type Agent struct {
	cfg    Config
	tab    tabs.Tab
	fetch  Fetcher
	auth   AuthQuerier
	report Reporter
	creds  secrets.Provider
}

// New creates an agent bound to a tab.
func New(cfg Config, tab tabs.Tab, fetch Fetcher, auth AuthQuerier, report Reporter, creds secrets.Provider) *Agent {
	return &Agent{
		cfg:    cfg,
		tab:    tab,
		fetch:  fetch,
		auth:   auth,
		report: report,
		creds:  creds,
	}
}

// runResult is the outcome of one flow attempt. handedOff means the agent
// reported a successful login and now waits for the orchestrator to
// navigate and re-dispatch; no completion report is sent for it.
type runResult struct {
	ok        bool
	reason    string
	handedOff bool
}

// Serve announces readiness, waits for begin instructions on the inbox and
// runs the flow for each. It returns after a completion report or when the
// context is cancelled.
func (a *Agent) Serve(ctx context.Context, inbox <-chan models.CheckInPayload) {
	for {
		if err := a.report.Ready(ctx); err != nil {
			log.Printf("⚠️ Ready announcement failed for tab %d: %v", a.tab.ID(), err)
		}

		select {
		case in, open := <-inbox:
			if !open {
				return
			}
			if !a.Run(ctx, in.SessionID, in.ProcessID) {
				return
			}
			// Handed off after login: loop and wait for re-dispatch.
		case <-ctx.Done():
			return
		}
	}
}

// Run executes one check-in attempt. It returns true when the run was
// handed off after a successful login; otherwise it sends the completion
// report and returns false.
func (a *Agent) Run(ctx context.Context, sessionID, processID string) bool {
	res := a.ensurePresence(ctx, sessionID)
	if res.handedOff {
		log.Printf("🔑 Tab %d: login handed off, awaiting home load", a.tab.ID())
		return true
	}

	report := models.CheckReport{
		Success:   res.ok,
		Reason:    res.reason,
		TabID:     a.tab.ID(),
		SessionID: sessionID,
		ProcessID: processID,
	}
	if err := a.report.Complete(ctx, report); err != nil {
		log.Printf("❌ Completion report failed for session %s: %v", sessionID, err)
	}
	return false
}

func (a *Agent) ensurePresence(ctx context.Context, sessionID string) runResult {
	loggedIn := a.sessionValid(ctx)

	if !loggedIn {
		return a.login(ctx, sessionID)
	}

	if err := a.ensureOnDashboard(ctx); err != nil {
		return runResult{reason: "navigation to dashboard failed: " + err.Error()}
	}

	found, err := pollUntil(ctx, a.cfg.PollInterval, a.cfg.DashboardDeadline, func(ctx context.Context) (bool, error) {
		return a.tab.Exists(ctx, a.dashboardMarker())
	})
	if err != nil {
		return runResult{reason: "dashboard wait failed: " + err.Error()}
	}
	if !found {
		return runResult{reason: "dashboard did not load"}
	}

	return a.clickIfNeeded(ctx)
}

// sessionValid decides whether the portal session cookie is still good.
// A fresh login inside the cooldown window skips the probe entirely.
func (a *Agent) sessionValid(ctx context.Context) bool {
	if st, err := a.auth.AuthState(ctx); err == nil && st.CooldownActive {
		log.Printf("🔒 Tab %d: auth cooldown active, skipping probe", a.tab.ID())
		return true
	}

	res := a.fetch.Fetch(ctx, models.FetchRequest{URL: a.cfg.ProbeURL})
	if !res.OK {
		log.Printf("🔌 Probe transport error, assuming logged out: %s", res.Error)
		return false
	}

	switch {
	case res.Status == http.StatusUnauthorized || res.Status == http.StatusForbidden:
		return false
	case res.Status >= 500:
		// A 5xx says nothing about the session; the configured policy
		// decides.
		return a.cfg.ServerError == config.ServerErrorLoggedIn
	case res.Status >= 200 && res.Status < 300:
		return true
	default:
		log.Printf("❓ Probe returned unexpected status %d, assuming logged out", res.Status)
		return false
	}
}

func (a *Agent) login(ctx context.Context, sessionID string) runResult {
	creds, err := a.creds.Credentials()
	if err != nil {
		if errors.Is(err, secrets.ErrMissingCredentials) {
			return runResult{reason: "login failed: credentials missing"}
		}
		return runResult{reason: "login failed: " + err.Error()}
	}

	body, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
		"provider": a.cfg.LoginProvider,
	})
	if err != nil {
		return runResult{reason: "login failed: " + err.Error()}
	}

	res := a.fetch.Fetch(ctx, models.FetchRequest{
		URL:     a.cfg.LoginURL,
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    string(body),
	})

	if res.OK && res.Status >= 200 && res.Status < 300 {
		if err := a.report.LoginSuccessful(ctx, sessionID); err != nil {
			return runResult{reason: "login succeeded but handoff failed: " + err.Error()}
		}
		return runResult{handedOff: true}
	}

	log.Printf("🔐 API login failed (status %d, err %q), trying form fallback", res.Status, res.Error)
	return a.formLogin(ctx, sessionID, creds)
}

// formLogin fills and submits the page's HTML login form. Used only when
// the direct API login did not take and the form selectors are configured.
func (a *Agent) formLogin(ctx context.Context, sessionID string, creds secrets.Credentials) runResult {
	sel := a.cfg.Selectors
	if sel.LoginUsername == "" || sel.LoginPassword == "" || sel.LoginSubmit == "" {
		return runResult{reason: "login failed"}
	}

	present, err := a.tab.Exists(ctx, sel.LoginUsername)
	if err != nil || !present {
		return runResult{reason: "login failed: login form not found"}
	}

	if err := a.tab.Fill(ctx, sel.LoginUsername, creds.Username); err != nil {
		return runResult{reason: "login failed: " + err.Error()}
	}
	if err := a.tab.Fill(ctx, sel.LoginPassword, creds.Password); err != nil {
		return runResult{reason: "login failed: " + err.Error()}
	}
	if err := a.tab.Click(ctx, sel.LoginSubmit); err != nil {
		return runResult{reason: "login failed: " + err.Error()}
	}

	// The submit kicks off the portal's own login round-trip; confirm it
	// took by re-probing until the session cookie is accepted.
	ok, err := pollUntil(ctx, a.cfg.PollInterval, a.cfg.DashboardDeadline, func(ctx context.Context) (bool, error) {
		res := a.fetch.Fetch(ctx, models.FetchRequest{URL: a.cfg.ProbeURL})
		return res.OK && res.Status >= 200 && res.Status < 300, nil
	})
	if err != nil || !ok {
		return runResult{reason: "login failed"}
	}

	if err := a.report.LoginSuccessful(ctx, sessionID); err != nil {
		return runResult{reason: "login succeeded but handoff failed: " + err.Error()}
	}
	return runResult{handedOff: true}
}

func (a *Agent) ensureOnDashboard(ctx context.Context) error {
	url, err := a.tab.URL(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(url, a.cfg.HomeURL) {
		return nil
	}
	log.Printf("🧭 Tab %d on %s, navigating to dashboard", a.tab.ID(), url)
	return a.tab.Navigate(ctx, a.cfg.HomeURL)
}

func (a *Agent) clickIfNeeded(ctx context.Context) runResult {
	sel := a.cfg.Selectors

	present, err := a.tab.Exists(ctx, sel.PresenceStatus)
	if err != nil {
		return runResult{reason: "presence check failed: " + err.Error()}
	}
	if present {
		// Idempotent no-op: repeated runs on an already-marked day must
		// not click again.
		return runResult{ok: true, reason: "already marked present"}
	}

	if res, done := a.clickControl(ctx); done {
		return res
	}

	if sel.MenuEntryText != "" {
		matched, err := a.tab.ClickByText(ctx, "li, button", sel.MenuEntryText)
		if err != nil {
			return runResult{reason: "menu selection failed: " + err.Error()}
		}
		if !matched {
			log.Printf("ℹ️ No secondary menu appeared after click")
		}
	}

	confirmed, err := pollTimes(ctx, a.cfg.PollInterval, a.cfg.ConfirmRetries, func(ctx context.Context) (bool, error) {
		return a.tab.Exists(ctx, sel.PresenceStatus)
	})
	if err != nil {
		return runResult{reason: "confirmation failed: " + err.Error()}
	}
	if !confirmed {
		return runResult{reason: "clicked but status did not confirm"}
	}

	return runResult{ok: true, reason: "presence successfully set"}
}

// clickControl locates and clicks the action control. done is true when the
// flow should stop with the returned result instead of confirming.
func (a *Agent) clickControl(ctx context.Context) (runResult, bool) {
	sel := a.cfg.Selectors

	err := a.tab.Click(ctx, sel.ActionControl)
	if err == nil {
		return runResult{}, false
	}
	if !errors.Is(err, tabs.ErrNoElement) {
		return runResult{reason: "click failed: " + err.Error()}, true
	}

	// Specific selector missed; fall back to matching by text, which has
	// survived several rounds of markup churn.
	if sel.ActionText != "" {
		matched, terr := a.tab.ClickByText(ctx, "button", sel.ActionText)
		if terr != nil {
			return runResult{reason: "click failed: " + terr.Error()}, true
		}
		if matched {
			return runResult{}, false
		}
	}

	if a.cfg.MissingControl == config.MissingControlSkip {
		return runResult{ok: true, reason: "no action control present (no-action day)"}, true
	}
	return runResult{reason: "action control not found"}, true
}

func (a *Agent) dashboardMarker() string {
	if a.cfg.Selectors.DashboardMarker != "" {
		return a.cfg.Selectors.DashboardMarker
	}
	// Without a dedicated marker the action area doubles as one: either
	// today's status or the control proves the widgets rendered.
	return a.cfg.Selectors.PresenceStatus + ", " + a.cfg.Selectors.ActionControl
}
