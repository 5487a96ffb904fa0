package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shehryarbajwa/checkin-mini/internal/agent"
	"github.com/shehryarbajwa/checkin-mini/internal/api"
	"github.com/shehryarbajwa/checkin-mini/internal/browser"
	"github.com/shehryarbajwa/checkin-mini/internal/bus"
	"github.com/shehryarbajwa/checkin-mini/internal/config"
	"github.com/shehryarbajwa/checkin-mini/internal/orchestrator"
	"github.com/shehryarbajwa/checkin-mini/internal/profile"
	"github.com/shehryarbajwa/checkin-mini/internal/proxy"
	"github.com/shehryarbajwa/checkin-mini/internal/relay"
	"github.com/shehryarbajwa/checkin-mini/internal/secrets"
	"github.com/shehryarbajwa/checkin-mini/internal/store"
	"github.com/shehryarbajwa/checkin-mini/internal/tabs"
)

const browserPort = 9222

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting Checkin Mini...")

	cfgPath := os.Getenv("CHECKIN_CONFIG")
	if cfgPath == "" {
		cfgPath = "checkin.yaml"
	}
	cfg, err := config.ReadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("✓ Config loaded from %s", cfgPath)

	creds := secrets.NewEnvProvider()
	if _, err := creds.Credentials(); err != nil {
		log.Println("⚠️ Portal credentials not set; automatic login will fail")
	}

	// Launch the managed browser
	pool, err := browser.NewPool(browserPort)
	if err != nil {
		log.Fatalf("Failed to create browser pool: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Println("⏳ Ensuring Chrome image is available...")
	if err := pool.EnsureImage(ctx); err != nil {
		log.Fatalf("Failed to ensure image: %v", err)
	}
	log.Println("✓ Chrome image ready")

	profileMgr, err := profile.NewManager(cfg.Server.ProfileDir)
	if err != nil {
		log.Fatalf("Failed to create profile manager: %v", err)
	}

	var userDataDir string
	if profileMgr.HasSaved() {
		userDataDir, err = profileMgr.Restore()
		if err != nil {
			log.Printf("⚠️ Could not restore browser profile, starting fresh: %v", err)
			userDataDir = ""
		} else {
			log.Println("✓ Browser profile restored")
		}
	}

	inst, err := pool.Launch(ctx, browser.LaunchOptions{UserDataDir: userDataDir})
	if err != nil {
		log.Fatalf("Failed to launch browser: %v", err)
	}
	log.Printf("✓ Browser running on port %s", inst.Port)

	driver, err := browser.NewDriver(ctx, inst.ConnectURL)
	if err != nil {
		log.Fatalf("Failed to connect to browser: %v", err)
	}
	defer driver.Close()
	log.Println("✓ Browser driver connected")

	// Wire the core
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	st := store.New(cfg.Timing.SessionTTL())
	msgBus := bus.New()
	tabMgr := tabs.NewManager(driver)

	rl, err := relay.New(30 * time.Second)
	if err != nil {
		log.Fatalf("Failed to create fetch relay: %v", err)
	}

	orch, err := orchestrator.New(cfg, cfgPath, st, msgBus, tabMgr, rl)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	driver.OnPageLoad(orch.OnPageReady)

	agentCfg := agent.Config{
		HomeURL:           cfg.Target.HomeURL,
		ProbeURL:          cfg.Target.ProbeURL,
		LoginURL:          cfg.Target.LoginURL,
		LoginProvider:     cfg.Target.LoginProvider,
		Selectors:         cfg.Selectors,
		ServerError:       cfg.Policies.ServerError,
		MissingControl:    cfg.Policies.MissingControl,
		PollInterval:      cfg.Timing.PollInterval(),
		DashboardDeadline: cfg.Timing.DashboardDeadline(),
		ConfirmRetries:    cfg.Timing.ConfirmRetries,
	}
	orch.SetSpawn(func(tab tabs.Tab) {
		link := agent.NewBusLink(msgBus, tab.ID())
		ag := agent.New(agentCfg, tab, link, link, link, creds)
		go ag.Serve(runCtx, link.Inbox(runCtx))
	})

	orch.Start(runCtx)
	log.Println("✓ Orchestrator started")

	// Initialize WebSocket debug proxy
	proxyServer := proxy.NewServer(func() string { return inst.ConnectURL })
	log.Println("✓ WebSocket proxy initialized")

	// Setup HTTP handlers
	browserHealthy := func() bool {
		hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hcancel()
		return pool.IsHealthy(hctx, inst.ContainerID)
	}
	handler := api.NewHandler(orch, st, msgBus, browserHealthy)
	router := handler.SetupRoutes(proxyServer, orch.Limiter())
	log.Println("✓ HTTP routes configured")

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("🚀 Server starting on http://localhost%s", cfg.Server.Addr)
		log.Printf("📍 API endpoints available at http://localhost%s/v1", cfg.Server.Addr)
		log.Printf("⏰ Daily check: enabled=%v at %02d:%02d", cfg.Schedule.Enabled, cfg.Schedule.Hour, cfg.Schedule.Minute)
		log.Println("🔍 Debug: live WebSocket proxy for CDP debugging at /v1/debug/ws")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("\n⏳ Shutting down gracefully...")

	orch.Stop()
	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Server forced to shutdown: %v", err)
	}

	// Persist the browser profile so the login cookie survives restarts
	if err := profileMgr.Save(inst.UserDataDir); err != nil {
		log.Printf("⚠️ Could not save browser profile: %v", err)
	} else {
		log.Println("💾 Browser profile saved")
	}

	if err := pool.Stop(shutdownCtx, inst.ContainerID); err != nil {
		log.Printf("⚠️ Could not stop browser container: %v", err)
	}

	log.Println("✅ Server stopped cleanly")
}
