package config

import (
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// MinSecretLength is the minimum required length for signing/ingest secrets in production
	MinSecretLength = 16
)

type Config struct {
	ServerPort  string
	Environment string
	// Secrets
	SigningSecret string // HMAC key for inbound webhook signatures
	IngestSecret  string // shared secret carried in mail META blocks
	// Ledger workbook (contacts/cases/submissions sheets)
	WorkbookPath string
	// Artifact storage
	StorageDir    string // local fallback root
	StagingPrefix string // holding area for unrouted submissions
	// Cloudflare R2 Storage
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string
	// Email (Resend)
	ResendAPIKey  string
	EmailFrom     string
	EmailFromName string
	EmailTestMode bool // When true, emails are logged to console instead of sent
	NotifyEmail   string
	// Other
	AllowedOrigins []string
	DebugEndpoints bool
	SweepSchedule  string // cron spec for the staging reconciliation sweep
	UniqueRescue   bool   // opt-in single-candidate staging adoption
}

func Load() *Config {
	// Load .env file (ignore error if not present - use system env vars)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	environment := getEnv("ENVIRONMENT", "development")

	signingSecret := getEnv("SIGNING_SECRET", "")
	ingestSecret := getEnv("INGEST_SECRET", "")
	validateSecret("SIGNING_SECRET", signingSecret, environment)
	validateSecret("INGEST_SECRET", ingestSecret, environment)

	return &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		Environment:       environment,
		SigningSecret:     signingSecret,
		IngestSecret:      ingestSecret,
		WorkbookPath:      getEnv("WORKBOOK_PATH", "data/ledger.xlsx"),
		StorageDir:        getEnv("STORAGE_DIR", "data/artifacts"),
		StagingPrefix:     getEnv("STAGING_PREFIX", "staging"),
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		ResendAPIKey:      getEnv("RESEND_API_KEY", ""),
		EmailFrom:         getEnv("EMAIL_FROM", "noreply@intakeflow.example"),
		EmailFromName:     getEnv("EMAIL_FROM_NAME", "Intake Flow"),
		EmailTestMode:     getEnvBool("EMAIL_TEST_MODE", true), // Default true for safety
		NotifyEmail:       getEnv("NOTIFY_EMAIL", ""),
		AllowedOrigins:    strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		DebugEndpoints:    getEnvBool("DEBUG_ENDPOINTS", false),
		SweepSchedule:     getEnv("SWEEP_SCHEDULE", "@every 5m"),
		UniqueRescue:      getEnvBool("UNIQUE_RESCUE", false),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Printf("Using default value for %s: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept common boolean representations
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// validateSecret checks secret material meets minimum requirements.
// In production a missing or short secret is fatal; in development it only warns.
func validateSecret(name, secret, environment string) {
	if environment == "production" {
		if len(secret) < MinSecretLength {
			log.Fatalf("[CRITICAL] %s must be at least %d characters in production (current: %d). Generate with: openssl rand -base64 24", name, MinSecretLength, len(secret))
		}
		return
	}
	if secret == "" {
		log.Printf("[WARNING] %s is not set. Signature and secret checks will reject all requests until it is configured.", name)
	}
}
