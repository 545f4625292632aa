package config

import (
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	LogFormat   string
	Env         string

	AuthMode    string
	JWTSecret   string
	JWTIssuer   string
	AdminAPIKey string

	InviteTTLHours          int
	RecoveryInviteTTLHours  int
	RecoveryTimeLockHours   int
	ClaimVotingWindowHours  int
	FragmentMasterKeyHex    string
	QuorumPolicyPath        string
	SweepBatchSize          int
	SweepIntervalSeconds    int
	LockTTLSeconds          int
	EvidenceBackend         string
	EvidenceS3Bucket        string
	EvidenceS3Prefix        string
	EvidenceMaxBytes        int
	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSSessionToken         string
	AWSS3Endpoint           string
	Notifier                string
	NotifyChannel           string
	RateLimitRequests       int
	RateLimitWindowSeconds  int
	RateLimitIncludeSubject bool
	RateLimitFailClosed     bool
	RateLimitMaxKeys        int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoadDotEnv reads a .env file into the process environment when one exists.
// Variables already set win over the file.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		LogFormat:               envDefault("LOG_FORMAT", "json"),
		Env:                     envDefault("HEIRLOOM_ENV", "dev"),
		AuthMode:                envDefault("AUTH_MODE", "none"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		JWTIssuer:               os.Getenv("JWT_ISSUER"),
		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		InviteTTLHours:          envIntDefault("INVITE_TTL_HOURS", 168),
		RecoveryInviteTTLHours:  envIntDefault("RECOVERY_INVITE_TTL_HOURS", 168),
		RecoveryTimeLockHours:   envIntDefault("RECOVERY_TIME_LOCK_HOURS", 168),
		ClaimVotingWindowHours:  envIntDefault("CLAIM_VOTING_WINDOW_HOURS", 336),
		FragmentMasterKeyHex:    os.Getenv("FRAGMENT_MASTER_KEY"),
		QuorumPolicyPath:        os.Getenv("QUORUM_POLICY_PATH"),
		SweepBatchSize:          envIntDefault("SWEEP_BATCH_SIZE", 500),
		SweepIntervalSeconds:    envIntDefault("SWEEP_INTERVAL_SECONDS", 900),
		LockTTLSeconds:          envIntDefault("LOCK_TTL_SECONDS", 30),
		EvidenceBackend:         envDefault("EVIDENCE_BACKEND", "memory"),
		EvidenceS3Bucket:        os.Getenv("EVIDENCE_S3_BUCKET"),
		EvidenceS3Prefix:        envDefault("EVIDENCE_S3_PREFIX", "claims/"),
		EvidenceMaxBytes:        envIntDefault("EVIDENCE_MAX_BYTES", 25<<20),
		AWSRegion:               os.Getenv("AWS_REGION"),
		AWSAccessKeyID:          os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:      os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSSessionToken:         os.Getenv("AWS_SESSION_TOKEN"),
		AWSS3Endpoint:           os.Getenv("AWS_S3_ENDPOINT"),
		Notifier:                envDefault("NOTIFIER", "log"),
		NotifyChannel:           envDefault("NOTIFY_CHANNEL", "heirloom.notifications"),
		RateLimitRequests:       envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:  envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitIncludeSubject: envBoolDefault("RATE_LIMIT_INCLUDE_SUBJECT", false),
		RateLimitFailClosed:     envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:        envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) InviteTTL() time.Duration {
	return hours(c.InviteTTLHours)
}

func (c Config) RecoveryInviteTTL() time.Duration {
	return hours(c.RecoveryInviteTTLHours)
}

func (c Config) RecoveryTimeLock() time.Duration {
	return hours(c.RecoveryTimeLockHours)
}

func (c Config) ClaimVotingWindow() time.Duration {
	return hours(c.ClaimVotingWindowHours)
}

func (c Config) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) LockTTL() time.Duration {
	if c.LockTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// FragmentMasterKey decodes FRAGMENT_MASTER_KEY. An empty value returns a nil key;
// callers decide whether that is acceptable for the current environment.
func (c Config) FragmentMasterKey() ([]byte, error) {
	if c.FragmentMasterKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.FragmentMasterKeyHex)
	if err != nil {
		return nil, errors.New("FRAGMENT_MASTER_KEY must be hex")
	}
	if len(key) != 32 {
		return nil, errors.New("FRAGMENT_MASTER_KEY must decode to 32 bytes")
	}
	return key, nil
}

func hours(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Hour
}
