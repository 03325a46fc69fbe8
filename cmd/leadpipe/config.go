package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpipe.db"
	// DefaultAgentName is used in greetings when AGENT_NAME is unset.
	DefaultAgentName = "your agent"

	BackendWhatsApp = "whatsapp"
	BackendTwilio   = "twilio"
)

// Config holds the resolved service configuration.
type Config struct {
	AgentID          string
	AgentName        string
	StateDir         string
	DBDSN            string
	WhatsAppDSN      string
	OpenAIKey        string
	OpenAIModel      string
	GenAIDebug       bool
	APIAddr          string
	RedisURL         string
	MessagingBackend string
	DefaultRegion    string
	CORSOrigins      []string
	SessionTimeout   time.Duration
	SweepSchedule    string
	QROutput         string
	NumericCode      bool
	LogLevel         slog.Level

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string
}

// loadEnvironmentConfig loads configuration from the .env file and environment variables.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		if port := os.Getenv("API_PORT"); port != "" {
			apiAddr = ":" + port
		}
	}

	cfg := Config{
		AgentID:          os.Getenv("AGENT_ID"),
		AgentName:        util.GetEnv("AGENT_NAME", DefaultAgentName),
		StateDir:         util.GetEnv("LEADPIPE_STATE_DIR", DefaultStateDir),
		DBDSN:            os.Getenv("DATABASE_URL"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      util.GetEnv("OPENAI_MODEL", genai.DefaultModel),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:          apiAddr,
		RedisURL:         os.Getenv("REDIS_URL"),
		MessagingBackend: util.GetEnv("MESSAGING_BACKEND", BackendWhatsApp),
		DefaultRegion:    util.GetEnv("DEFAULT_REGION", messaging.DefaultRegion),
		CORSOrigins:      util.ParseListEnv("CORS_ORIGINS", api.DefaultCORSOrigins),
		SessionTimeout:   util.ParseDurationEnv("SESSION_INACTIVITY", session.DefaultInactivityTimeout),
		SweepSchedule:    util.GetEnv("SESSION_SWEEP_SCHEDULE", session.DefaultSweepSchedule),
		QROutput:         os.Getenv("QR_OUTPUT"),
		NumericCode:      util.ParseBoolEnv("NUMERIC_CODE", false),
		LogLevel:         parseLogLevel(os.Getenv("LOG_LEVEL")),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = api.DefaultAddr
	}

	slog.Debug("environment variables loaded",
		"AGENT_ID", cfg.AgentID,
		"LEADPIPE_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DBDSN != "",
		"WHATSAPP_DB_DSN_SET", cfg.WhatsAppDSN != "",
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"REDIS_URL_SET", cfg.RedisURL != "",
		"MESSAGING_BACKEND", cfg.MessagingBackend,
		"API_ADDR", cfg.APIAddr)
	return cfg
}

// parseCommandLineFlags applies flag overrides on top of the environment configuration.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg Config) (Config, error) {
	fs.StringVar(&cfg.AgentID, "agent-id", cfg.AgentID, "agent this instance answers for (overrides $AGENT_ID)")
	fs.StringVar(&cfg.AgentName, "agent-name", cfg.AgentName, "agent display name (overrides $AGENT_NAME)")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)")
	fs.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "lead database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.WhatsAppDSN, "whatsapp-db-dsn", cfg.WhatsAppDSN, "WhatsApp device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "OpenAI model used for intent routing (overrides $OPENAI_MODEL)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for shared sessions (overrides $REDIS_URL)")
	fs.StringVar(&cfg.MessagingBackend, "messaging-backend", cfg.MessagingBackend, "whatsapp or twilio (overrides $MESSAGING_BACKEND)")
	fs.StringVar(&cfg.DefaultRegion, "default-region", cfg.DefaultRegion, "region for phone numbers without country code (overrides $DEFAULT_REGION)")
	fs.StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "use numeric login code instead of QR code")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.DBDSN == "" {
		cfg.DBDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DBDSN)
	}
	if cfg.WhatsAppDSN == "" {
		cfg.WhatsAppDSN = cfg.DBDSN
	}
	cfg.MessagingBackend = strings.ToLower(strings.TrimSpace(cfg.MessagingBackend))
	return cfg, nil
}

// validate checks settings without which the service cannot start.
func (c Config) validate() error {
	var errs []error
	if c.AgentID == "" {
		errs = append(errs, errors.New("AGENT_ID is required"))
	}
	switch c.MessagingBackend {
	case BackendWhatsApp:
	case BackendTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFrom == "" {
			errs = append(errs, errors.New("twilio backend requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown messaging backend %q", c.MessagingBackend))
	}
	if c.OpenAIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	return errors.Join(errs...)
}

// parseLogLevel accepts slog level names; anything else selects debug.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelDebug
	}
	return level
}
