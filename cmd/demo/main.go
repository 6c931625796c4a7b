package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"wechat-bridge/client"
	"wechat-bridge/domain"
	"wechat-bridge/domain/event"
	"wechat-bridge/internal"
	"wechat-bridge/observability"
	"wechat-bridge/repositories"
	"wechat-bridge/services"
	"wechat-bridge/sink"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Demo terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, drives one full session against the
// simulated transport, and centralizes error reporting so deferred
// cleanups (the badger lock in particular) always execute.
func run() (int, error) {
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := internal.ValidateBackoff(config.PollBackoff); err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	options := badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(options)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	store := repositories.NewKeyValueRepository(db)
	monitoring := observability.NewMonitoringManager(logger)

	counter := event.NewCounter()
	handlers := sink.NewHandlerSink(event.NewPresenceChangedHandler(logger, counter))

	// The demo roster: one contact and one group, resolved by the
	// simulator through a scripted identity batch.
	transport := client.NewSimulator(
		[]domain.RawContact{
			{SessionID: "@alice", DisplayName: "Alice"},
			{SessionID: "@@lounge", DisplayName: "The Lounge"},
		},
		map[domain.SessionID]domain.StableID{
			"@self":    "U0",
			"@alice":   "U1",
			"@@lounge": "G1",
		},
	)

	service := services.NewSessionService(logger, transport, store, monitoring, services.Options{
		PollBackoff:     config.PollBackoff,
		SinkTimeout:     config.SinkTimeout,
		RestartInterval: config.RestartInterval,
		FillerAccount:   domain.SessionID(config.FillerAccount),
		CourtesyText:    config.Courtesy(),
	}, NewConsoleSink(), handlers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	self, err := service.Login(ctx, domain.LoginOptions{AgentName: config.AgentName})
	if err != nil {
		return exitRuntime, fmt.Errorf("login failed: %w", err)
	}
	logger.Info("Logged in", "session_id", self.SessionID, "status", self.Status)

	if err := service.InviteContact(ctx, "U1"); err != nil {
		logger.Warn("Invite failed", "error", err)
	}
	if err := service.SendMessage(ctx, "U1", "hello from the bridge"); err != nil {
		logger.Warn("Send failed", "error", err)
	}

	// Simulate Alice answering our invite, then chat traffic, until the
	// host interrupts us.
	transport.Queue(aliceAnswers())

	<-ctx.Done()

	stats := service.Stats()
	logger.Info("Shutting down",
		"poll_cycles", stats.PollCycles,
		"events", stats.EventsDispatched,
		"transient_errors", stats.TransientErrors,
		"presence_notifications", counter.Get(event.PresenceChangedType))
	renderRecent(monitoring.Recent())

	if err := service.Logout(context.Background()); err != nil {
		logger.Warn("Logout failed", "error", err)
	}
	return exitOK, nil
}

// renderRecent dumps the rolling dispatch feed, newest first.
func renderRecent(recent []observability.RecentEventInfo) {
	if len(recent) == 0 {
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Time", "Kind", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)

	for _, entry := range recent {
		table.Append([]string{entry.Timestamp, entry.Kind, entry.Detail})
	}
	table.Render()
}
