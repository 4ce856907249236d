package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/PillboxLabs/PillMinder/internal/announce"
	"github.com/PillboxLabs/PillMinder/internal/api"
	"github.com/PillboxLabs/PillMinder/internal/genai"
	"github.com/PillboxLabs/PillMinder/internal/intent"
	"github.com/PillboxLabs/PillMinder/internal/ledger"
	"github.com/PillboxLabs/PillMinder/internal/lockfile"
	"github.com/PillboxLabs/PillMinder/internal/reminder"
	"github.com/PillboxLabs/PillMinder/internal/scheduler"
	"github.com/PillboxLabs/PillMinder/internal/store"
	"github.com/PillboxLabs/PillMinder/internal/twiliosms"
	"github.com/PillboxLabs/PillMinder/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PillMinder state data
	DefaultStateDir = "/var/lib/pillminder"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "pillminder.db"
	// DefaultTickSchedule is how often the reminder matcher runs
	DefaultTickSchedule = "@every 30s"
	// DefaultResetSchedule runs the daily status reset at midnight
	DefaultResetSchedule = "0 0 * * *"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping PillMinder with configured modules")
	if err := run(flags); err != nil {
		slog.Error("PillMinder failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("PillMinder exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	WhatsAppDSN    string
	StateDir       string
	OpenAIKey      string
	APIAddr        string
	Announcer      string
	FamilyWhatsApp string
	GuardianPhone  string
	TickSchedule   string
	ResetSchedule  string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput       *string
	numeric        *bool
	stateDir       *string
	dbDSN          *string
	openaiKey      *string
	apiAddr        *string
	announcer      *string
	familyWhatsApp *string
	guardianPhone  *string
	tickSchedule   *string
	resetSchedule  *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:       os.Getenv("PILLMINDER_STATE_DIR"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		APIAddr:        os.Getenv("API_ADDR"),
		Announcer:      os.Getenv("ANNOUNCER"),
		FamilyWhatsApp: os.Getenv("FAMILY_WHATSAPP"),
		GuardianPhone:  os.Getenv("GUARDIAN_PHONE"),
		TickSchedule:   os.Getenv("TICK_SCHEDULE"),
		ResetSchedule:  os.Getenv("RESET_SCHEDULE"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PILLMINDER_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("PILLMINDER_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	if config.TickSchedule == "" {
		config.TickSchedule = DefaultTickSchedule
	}
	if config.ResetSchedule == "" {
		config.ResetSchedule = DefaultResetSchedule
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"PILLMINDER_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"ANNOUNCER", config.Announcer,
		"GUARDIAN_PHONE_SET", config.GuardianPhone != "",
		"TICK_SCHEDULE", config.TickSchedule,
		"RESET_SCHEDULE", config.ResetSchedule)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:       flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:        flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for PillMinder data (overrides $PILLMINDER_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the medication store (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		announcer:      flag.String("announcer", config.Announcer, "announcer backend: console or whatsapp (overrides $ANNOUNCER)"),
		familyWhatsApp: flag.String("family-whatsapp", config.FamilyWhatsApp, "family WhatsApp number mirrored announcements go to (overrides $FAMILY_WHATSAPP)"),
		guardianPhone:  flag.String("guardian-phone", config.GuardianPhone, "guardian phone number for SMS escalation (overrides $GUARDIAN_PHONE)"),
		tickSchedule:   flag.String("tick-schedule", config.TickSchedule, "cron schedule for the reminder tick (overrides $TICK_SCHEDULE)"),
		resetSchedule:  flag.String("reset-schedule", config.ResetSchedule, "cron schedule for the daily status reset (overrides $RESET_SCHEDULE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"announcer", *flags.announcer,
		"guardianPhoneSet", *flags.guardianPhone != "",
		"tickSchedule", *flags.tickSchedule,
		"resetSchedule", *flags.resetSchedule)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// openStore builds the medication store matching the configured DSN.
func openStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildAnnouncer selects the announcement backend. The console announcer is
// the default; "whatsapp" mirrors announcements to a family member's phone.
func buildAnnouncer(flags Flags) (announce.Announcer, error) {
	if *flags.announcer != "whatsapp" {
		return announce.NewConsoleAnnouncer(), nil
	}
	if *flags.familyWhatsApp == "" {
		slog.Warn("WhatsApp announcer requested but no family number configured, falling back to console")
		return announce.NewConsoleAnnouncer(), nil
	}
	var waOpts []whatsapp.Option
	waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	return announce.NewSenderAnnouncer(waClient, *flags.familyWhatsApp), nil
}

// buildEngineOptions wires guardian SMS escalation when configured.
func buildEngineOptions(flags Flags) []reminder.EngineOption {
	var opts []reminder.EngineOption
	if *flags.guardianPhone == "" {
		slog.Debug("No guardian phone configured, escalation disabled")
		return opts
	}
	smsClient, err := twiliosms.NewClient()
	if err != nil {
		slog.Warn("Guardian phone set but Twilio not configured, escalation disabled", "error", err)
		return opts
	}
	esc := reminder.NewSenderEscalator(smsClient, *flags.guardianPhone)
	opts = append(opts, reminder.WithEscalator(esc, reminder.DefaultEscalateAfterRepeats))
	slog.Info("Guardian SMS escalation enabled")
	return opts
}

// run wires the modules together and serves until interrupted.
func run(flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	ann, err := buildAnnouncer(flags)
	if err != nil {
		return err
	}

	led, err := ledger.New(st, ann)
	if err != nil {
		return err
	}

	timer := reminder.NewSimpleTimer()
	defer timer.Stop()
	clock := reminder.SystemClock{}
	engine := reminder.NewEngine(led, ann, timer, clock, buildEngineOptions(flags)...)
	defer engine.Stop()

	dispatcher := intent.NewDispatcher(engine, clock)

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.openaiKey != "" {
		ga, gaErr := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if gaErr != nil {
			return gaErr
		}
		apiOpts = append(apiOpts, api.WithGenAI(ga))
	} else {
		slog.Warn("No OpenAI API key configured; transcript analysis, label scanning and chat are disabled")
	}
	server := api.NewServer(engine, dispatcher, st, apiOpts...)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(*flags.tickSchedule, func() {
		engine.Tick(clock.Now())
	}); err != nil {
		return err
	}
	if err := sched.AddJob(*flags.resetSchedule, func() {
		if count, resetErr := engine.DailyReset(); resetErr != nil {
			slog.Error("Daily reset failed", "error", resetErr)
		} else {
			slog.Info("Daily reset complete", "reset_count", count)
		}
	}); err != nil {
		return err
	}

	// Serve until a signal arrives, then drain cleanly
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	return nil
}
