package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Rogrei/diagnostik-chat/internal/timeline"
)

// ErrNotConfigured is returned by the Init functions of optional backends
// whose environment variables are unset.
var ErrNotConfigured = errors.New("not configured")

type AppConfig struct {
	Env                string
	Port               string
	LogLevel           string
	ExposeErrorDetails bool

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	WhisperModel       string
	TranscribeLanguage string

	STTProvider           string // whisper|google
	GoogleSpeechLanguage  string
	GoogleCredentialsFile string

	RealtimeIssuer           string
	RealtimePrivateKeyBase64 string
	RealtimeTokenTTL         time.Duration

	StorageBackend string // local|gcs
	UploadDir      string
	GCSBucket      string
	MaxUploadBytes int64

	Timeline timeline.Settings

	DuplicatePolicy   string // allow-duplicate|reject-duplicate
	RetryPolicy       string // chunk|origin
	TranscribeWorkers int
	TurnsCacheTTL     time.Duration
	CacheKeyPrefix    string
	RunLogTTL         time.Duration
}

func (c *AppConfig) Development() bool { return c.Env != "production" }

// LoadApp reads the process environment. Call godotenv.Load first to pick up
// a local .env file.
func LoadApp() (*AppConfig, error) {
	c := &AppConfig{
		Env:      getenv("APP_ENV", "development"),
		Port:     getenv("PORT", "3001"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      getenv("OPENAI_BASE_URL", "https://api.openai.com"),
		WhisperModel:       getenv("WHISPER_MODEL", "whisper-1"),
		TranscribeLanguage: getenv("TRANSCRIBE_LANGUAGE", "sv"),

		STTProvider:           strings.ToLower(getenv("STT_PROVIDER", "whisper")),
		GoogleSpeechLanguage:  getenv("GOOGLE_SPEECH_LANGUAGE", "sv-SE"),
		GoogleCredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_FILE"),

		RealtimeIssuer:           getenv("REALTIME_ISSUER", "diagnostik-chat"),
		RealtimePrivateKeyBase64: os.Getenv("REALTIME_PRIVATE_KEY_BASE64"),

		StorageBackend: strings.ToLower(getenv("STORAGE_BACKEND", "local")),
		UploadDir:      getenv("UPLOAD_DIR", filepath.Join(os.TempDir(), "interviews")),
		GCSBucket:      os.Getenv("GCS_BUCKET"),

		DuplicatePolicy: getenv("DUPLICATE_IMPORT_POLICY", "allow-duplicate"),
		RetryPolicy:     getenv("RETRY_POLICY", "chunk"),
		CacheKeyPrefix:  getenv("CACHE_KEY_PREFIX", "diagnostik:"),

		Timeline: timeline.DefaultSettings(),
	}
	c.Timeline.NonSpeechMarker = getenv("NON_SPEECH_MARKER", timeline.DefaultNonSpeechMarker)

	var err error
	if c.ExposeErrorDetails, err = getBool("EXPOSE_ERROR_DETAILS", c.Env != "production"); err != nil {
		return nil, err
	}

	var n int
	if n, err = getInt("REALTIME_TOKEN_TTL_SECONDS", 300); err != nil {
		return nil, err
	}
	c.RealtimeTokenTTL = time.Duration(n) * time.Second

	if n, err = getInt("MAX_UPLOAD_MB", 50); err != nil {
		return nil, err
	}
	c.MaxUploadBytes = int64(n) << 20

	if c.TranscribeWorkers, err = getInt("TRANSCRIBE_WORKERS", 2); err != nil {
		return nil, err
	}
	if n, err = getInt("TURNS_CACHE_TTL_SECONDS", 30); err != nil {
		return nil, err
	}
	c.TurnsCacheTTL = time.Duration(n) * time.Second

	if n, err = getInt("TRANSCRIPTION_RUN_TTL_DAYS", 30); err != nil {
		return nil, err
	}
	c.RunLogTTL = time.Duration(n) * 24 * time.Hour

	durations := []struct {
		key  string
		unit time.Duration
		dst  *time.Duration
	}{
		{"TIMELINE_CHUNK_DELAG_SECONDS", time.Second, &c.Timeline.ChunkDelag},
		{"TIMELINE_FULL_FORWARD_MS", time.Millisecond, &c.Timeline.FullForward},
		{"TIMELINE_FULL_FLOOR_MS", time.Millisecond, &c.Timeline.FullFloor},
		{"TIMELINE_FIRST_USER_TURN_MS", time.Millisecond, &c.Timeline.FirstUserTurnOffset},
		{"TIMELINE_FIRST_AI_TURN_MS", time.Millisecond, &c.Timeline.FirstAITurnOffset},
	}
	for _, d := range durations {
		v, err := getInt(d.key, int(*d.dst/d.unit))
		if err != nil {
			return nil, err
		}
		*d.dst = time.Duration(v) * d.unit
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) validate() error {
	switch c.DuplicatePolicy {
	case "allow-duplicate", "reject-duplicate":
	default:
		return fmt.Errorf("DUPLICATE_IMPORT_POLICY must be allow-duplicate or reject-duplicate, got %q", c.DuplicatePolicy)
	}
	switch c.RetryPolicy {
	case "chunk", "origin":
	default:
		return fmt.Errorf("RETRY_POLICY must be chunk or origin, got %q", c.RetryPolicy)
	}
	switch c.STTProvider {
	case "whisper", "google":
	default:
		return fmt.Errorf("STT_PROVIDER must be whisper or google, got %q", c.STTProvider)
	}
	switch c.StorageBackend {
	case "local":
	case "gcs":
		if c.GCSBucket == "" {
			return errors.New("GCS_BUCKET is required when STORAGE_BACKEND=gcs")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be local or gcs, got %q", c.StorageBackend)
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
