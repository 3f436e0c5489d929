package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Config carries everything main needs to wire the server. Values come
// from the environment first; command-line flags override them.
type Config struct {
	RootPath        string
	Port            int
	CachePath       string
	FFmpegBinaryDir string
	BufferLength    float64 // seconds; the engine holds 2x as the hard cap
	MaxClientNumber int
	Debug           bool
	NoShortCircuit  bool

	MongoURI      string // empty disables watch history
	MongoDatabase string

	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		RootPath:        getEnv("ROOT_PATH", ""),
		Port:            int(getEnvInt64("PORT", 4040)),
		CachePath:       getEnv("CACHE_PATH", filepath.Join(os.TempDir(), "hls-vod-cache")),
		FFmpegBinaryDir: getEnv("FFMPEG_BINARY_DIR", ""),
		BufferLength:    getEnvFloat("BUFFER_LENGTH", 30),
		MaxClientNumber: int(getEnvInt64("MAX_CLIENT_NUMBER", 5)),
		Debug:           getEnvBool("DEBUG", false),
		NoShortCircuit:  getEnvBool("NO_SHORT_CIRCUIT", false),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DB", "hlsvod"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		AllowedOrigins:  splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// BindFlags registers the command-line surface on fs. Call fs.Parse, then
// Validate.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.RootPath, "root-path", c.RootPath, "media root directory (required)")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	fs.StringVar(&c.CachePath, "cache-path", c.CachePath, "scratch directory for encoded segments")
	fs.StringVar(&c.FFmpegBinaryDir, "ffmpeg-binary-dir", c.FFmpegBinaryDir, "directory holding ffmpeg and ffprobe")
	fs.Float64Var(&c.BufferLength, "buffer-length", c.BufferLength, "per-client buffered lookahead in seconds")
	fs.IntVar(&c.MaxClientNumber, "max-client-number", c.MaxClientNumber, "maximum tracked streaming clients")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "debug logging")
	fs.BoolVar(&c.NoShortCircuit, "no-short-circuit", c.NoShortCircuit, "never hint native playback support")
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.RootPath) == "" {
		return errors.New("root-path is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.New("port must be in 1..65535")
	}
	if c.BufferLength <= 0 {
		return errors.New("buffer-length must be positive")
	}
	if c.MaxClientNumber <= 0 {
		return errors.New("max-client-number must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1"
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
