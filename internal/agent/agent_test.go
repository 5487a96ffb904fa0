package agent

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/checkin-mini/internal/config"
	"github.com/shehryarbajwa/checkin-mini/internal/secrets"
	"github.com/shehryarbajwa/checkin-mini/internal/tabs"
	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

type fakeTab struct {
	mu      sync.Mutex
	id      int
	url     string
	exists  map[string]bool
	texts   map[string]bool
	clicks  []string
	fills   map[string]string
	onClick func(selector string)
}

func newFakeTab(url string) *fakeTab {
	return &fakeTab{
		id:     1,
		url:    url,
		exists: make(map[string]bool),
		texts:  make(map[string]bool),
		fills:  make(map[string]string),
	}
}

func (f *fakeTab) ID() int { return f.id }

func (f *fakeTab) URL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url, nil
}

func (f *fakeTab) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.url = url
	return nil
}

func (f *fakeTab) Exists(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists[selector], nil
}

func (f *fakeTab) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	if !f.exists[selector] {
		f.mu.Unlock()
		return tabs.ErrNoElement
	}
	f.clicks = append(f.clicks, selector)
	hook := f.onClick
	f.mu.Unlock()

	if hook != nil {
		hook(selector)
	}
	return nil
}

func (f *fakeTab) ClickByText(ctx context.Context, selector, pattern string) (bool, error) {
	f.mu.Lock()
	if !f.texts[pattern] {
		f.mu.Unlock()
		return false, nil
	}
	f.clicks = append(f.clicks, "text:"+pattern)
	hook := f.onClick
	f.mu.Unlock()

	if hook != nil {
		hook(pattern)
	}
	return true, nil
}

func (f *fakeTab) Fill(ctx context.Context, selector, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills[selector] = value
	return nil
}

func (f *fakeTab) Close(ctx context.Context) error { return nil }

func (f *fakeTab) set(selector string, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists[selector] = present
}

func (f *fakeTab) clickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clicks)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []models.FetchRequest
	fn    func(req models.FetchRequest) models.FetchResult
}

func (f *fakeFetcher) Fetch(ctx context.Context, req models.FetchRequest) models.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeFetcher) callURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	urls := make([]string, len(f.calls))
	for i, c := range f.calls {
		urls[i] = c.URL
	}
	return urls
}

type fakeAuth struct{ state models.AuthState }

func (f *fakeAuth) AuthState(ctx context.Context) (models.AuthState, error) {
	return f.state, nil
}

type fakeReporter struct {
	mu     sync.Mutex
	ready  int
	logins []string
	report *models.CheckReport
}

func (f *fakeReporter) Ready(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready++
	return nil
}

func (f *fakeReporter) LoginSuccessful(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, sessionID)
	return nil
}

func (f *fakeReporter) Complete(ctx context.Context, report models.CheckReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report = &report
	return nil
}

const (
	homeURL  = "https://portal.example/#/home"
	probeURL = "https://portal.example:9901/api/config/default"
	loginURL = "https://portal.example:9901/api/auth/login"

	selDash    = "#dash"
	selPresent = "#present"
	selAction  = "#mark"
)

func testConfig() Config {
	return Config{
		HomeURL:       homeURL,
		ProbeURL:      probeURL,
		LoginURL:      loginURL,
		LoginProvider: "portal",
		Selectors: config.Selectors{
			LoginUsername:   "#user",
			LoginPassword:   "#pass",
			LoginSubmit:     "#submit",
			DashboardMarker: selDash,
			PresenceStatus:  selPresent,
			ActionControl:   selAction,
			ActionText:      "(?i)rozpocznij",
		},
		ServerError:       config.ServerErrorLoggedOut,
		MissingControl:    config.MissingControlFail,
		PollInterval:      time.Millisecond,
		DashboardDeadline: 50 * time.Millisecond,
		ConfirmRetries:    5,
	}
}

func statusFetcher(probeStatus int) *fakeFetcher {
	return &fakeFetcher{fn: func(req models.FetchRequest) models.FetchResult {
		return models.FetchResult{OK: true, Status: probeStatus}
	}}
}

func TestProbeOKProceedsWithoutLogin(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	tab.set(selDash, true)
	tab.set(selPresent, true)

	fetch := statusFetcher(http.StatusOK)
	rep := &fakeReporter{}
	a := New(testConfig(), tab, fetch, &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	handedOff := a.Run(context.Background(), "sess-1", "proc-1")

	assert.False(t, handedOff)
	require.NotNil(t, rep.report)
	assert.True(t, rep.report.Success)
	assert.Equal(t, "already marked present", rep.report.Reason)
	assert.Empty(t, rep.logins, "no login attempted when probe succeeds")
	assert.Equal(t, []string{probeURL}, fetch.callURLs())
}

func TestAlreadyPresentNeverClicks(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	tab.set(selDash, true)
	tab.set(selPresent, true)
	tab.set(selAction, true)

	rep := &fakeReporter{}
	a := New(testConfig(), tab, statusFetcher(http.StatusOK), &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	// Two runs on an already-marked day: two identical results, zero clicks.
	for i := 0; i < 2; i++ {
		a.Run(context.Background(), "sess-1", "proc-1")
		require.NotNil(t, rep.report)
		assert.True(t, rep.report.Success)
		assert.Equal(t, "already marked present", rep.report.Reason)
	}
	assert.Zero(t, tab.clickCount())
}

func TestClickAndConfirm(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	tab.set(selDash, true)
	tab.set(selAction, true)

	rep := &fakeReporter{}
	a := New(testConfig(), tab, statusFetcher(http.StatusOK), &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	// The status indicator appears once the SPA re-renders after the click.
	tab.onClick = func(string) { tab.set(selPresent, true) }

	a.Run(context.Background(), "sess-1", "proc-1")

	require.NotNil(t, rep.report)
	assert.True(t, rep.report.Success)
	assert.Equal(t, "presence successfully set", rep.report.Reason)
	assert.Equal(t, 1, tab.clickCount())
}

func TestClickedButUnconfirmed(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	tab.set(selDash, true)
	tab.set(selAction, true)

	rep := &fakeReporter{}
	a := New(testConfig(), tab, statusFetcher(http.StatusOK), &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	a.Run(context.Background(), "sess-1", "proc-1")

	require.NotNil(t, rep.report)
	assert.False(t, rep.report.Success)
	assert.Equal(t, "clicked but status did not confirm", rep.report.Reason)
}

func TestTextFallbackClick(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	tab.set(selDash, true)
	tab.mu.Lock()
	tab.texts["(?i)rozpocznij"] = true
	tab.mu.Unlock()

	rep := &fakeReporter{}
	a := New(testConfig(), tab, statusFetcher(http.StatusOK), &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	tab.onClick = func(string) { tab.set(selPresent, true) }

	a.Run(context.Background(), "sess-1", "proc-1")

	require.NotNil(t, rep.report)
	assert.True(t, rep.report.Success)
	tab.mu.Lock()
	defer tab.mu.Unlock()
	assert.Contains(t, tab.clicks, "text:(?i)rozpocznij")
}

func TestMissingControlPolicies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		policy     config.MissingControlPolicy
		wantOK     bool
		wantReason string
	}{
		{"fail", config.MissingControlFail, false, "action control not found"},
		{"skip", config.MissingControlSkip, true, "no action control present (no-action day)"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tab := newFakeTab(homeURL)
			tab.set(selDash, true)

			cfg := testConfig()
			cfg.MissingControl = tc.policy

			rep := &fakeReporter{}
			a := New(cfg, tab, statusFetcher(http.StatusOK), &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})
			a.Run(context.Background(), "sess-1", "proc-1")

			require.NotNil(t, rep.report)
			assert.Equal(t, tc.wantOK, rep.report.Success)
			assert.Equal(t, tc.wantReason, rep.report.Reason)
			assert.Zero(t, tab.clickCount())
		})
	}
}

func TestServerErrorPolicies(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		policy    config.ServerErrorPolicy
		wantLogin bool
	}{
		{"logged_out reauthenticates", config.ServerErrorLoggedOut, true},
		{"logged_in proceeds", config.ServerErrorLoggedIn, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tab := newFakeTab(homeURL)
			tab.set(selDash, true)
			tab.set(selPresent, true)

			cfg := testConfig()
			cfg.ServerError = tc.policy

			fetch := &fakeFetcher{fn: func(req models.FetchRequest) models.FetchResult {
				if req.URL == loginURL {
					return models.FetchResult{OK: true, Status: http.StatusOK}
				}
				return models.FetchResult{OK: true, Status: http.StatusInternalServerError}
			}}

			rep := &fakeReporter{}
			a := New(cfg, tab, fetch, &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})
			handedOff := a.Run(context.Background(), "sess-1", "proc-1")

			if tc.wantLogin {
				assert.True(t, handedOff)
				assert.Equal(t, []string{"sess-1"}, rep.logins)
			} else {
				assert.False(t, handedOff)
				require.NotNil(t, rep.report)
				assert.True(t, rep.report.Success)
			}
		})
	}
}

func TestLoginHandoff(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	fetch := &fakeFetcher{fn: func(req models.FetchRequest) models.FetchResult {
		if req.URL == loginURL {
			assert.Equal(t, http.MethodPost, req.Method)
			assert.Contains(t, req.Body, `"provider":"portal"`)
			return models.FetchResult{OK: true, Status: http.StatusOK}
		}
		return models.FetchResult{OK: true, Status: http.StatusUnauthorized}
	}}

	rep := &fakeReporter{}
	a := New(testConfig(), tab, fetch, &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	handedOff := a.Run(context.Background(), "sess-1", "proc-1")

	assert.True(t, handedOff)
	assert.Equal(t, []string{"sess-1"}, rep.logins)
	assert.Nil(t, rep.report, "no completion report on handoff")
}

func TestLoginCredentialsMissing(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	rep := &fakeReporter{}
	a := New(testConfig(), tab, statusFetcher(http.StatusUnauthorized), &fakeAuth{}, rep, secrets.Static{})

	handedOff := a.Run(context.Background(), "sess-1", "proc-1")

	assert.False(t, handedOff)
	require.NotNil(t, rep.report)
	assert.False(t, rep.report.Success)
	assert.Equal(t, "login failed: credentials missing", rep.report.Reason)
}

func TestFormLoginFallback(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	tab.set("#user", true)
	tab.set("#submit", true)

	var loggedIn bool
	var mu sync.Mutex
	fetch := &fakeFetcher{fn: func(req models.FetchRequest) models.FetchResult {
		mu.Lock()
		defer mu.Unlock()
		if req.URL == loginURL {
			// API login rejected; only the form flow works.
			return models.FetchResult{OK: true, Status: http.StatusBadRequest}
		}
		if loggedIn {
			return models.FetchResult{OK: true, Status: http.StatusOK}
		}
		return models.FetchResult{OK: true, Status: http.StatusUnauthorized}
	}}

	rep := &fakeReporter{}
	a := New(testConfig(), tab, fetch, &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	// Submitting the form completes the portal's own login round-trip.
	tab.onClick = func(selector string) {
		if selector == "#submit" {
			mu.Lock()
			loggedIn = true
			mu.Unlock()
		}
	}

	handedOff := a.Run(context.Background(), "sess-1", "proc-1")

	assert.True(t, handedOff)
	assert.Equal(t, []string{"sess-1"}, rep.logins)
	tab.mu.Lock()
	defer tab.mu.Unlock()
	assert.Equal(t, "u", tab.fills["#user"])
	assert.Equal(t, "p", tab.fills["#pass"])
}

func TestDashboardNeverLoads(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)

	rep := &fakeReporter{}
	a := New(testConfig(), tab, statusFetcher(http.StatusOK), &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	a.Run(context.Background(), "sess-1", "proc-1")

	require.NotNil(t, rep.report)
	assert.False(t, rep.report.Success)
	assert.Equal(t, "dashboard did not load", rep.report.Reason)
}

func TestCooldownSkipsProbe(t *testing.T) {
	t.Parallel()

	tab := newFakeTab(homeURL)
	tab.set(selDash, true)
	tab.set(selPresent, true)

	fetch := statusFetcher(http.StatusUnauthorized)
	auth := &fakeAuth{state: models.AuthState{IsAuthenticated: true, CooldownActive: true}}

	rep := &fakeReporter{}
	a := New(testConfig(), tab, fetch, auth, rep, secrets.Static{Username: "u", Password: "p"})

	a.Run(context.Background(), "sess-1", "proc-1")

	require.NotNil(t, rep.report)
	assert.True(t, rep.report.Success)
	assert.Empty(t, fetch.callURLs(), "cooldown skips the probe entirely")
}

func TestNavigatesToDashboardWhenElsewhere(t *testing.T) {
	t.Parallel()

	tab := newFakeTab("https://portal.example/#/settings")
	tab.set(selDash, true)
	tab.set(selPresent, true)

	rep := &fakeReporter{}
	a := New(testConfig(), tab, statusFetcher(http.StatusOK), &fakeAuth{}, rep, secrets.Static{Username: "u", Password: "p"})

	a.Run(context.Background(), "sess-1", "proc-1")

	tab.mu.Lock()
	defer tab.mu.Unlock()
	assert.Equal(t, homeURL, tab.url)
}
