package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvNoSandbox     = "BROWSER_STREAM_NO_SANDBOX"
	EnvFFmpegPath    = "BROWSER_STREAM_FFMPEG"
	EnvChromiumPath  = "BROWSER_STREAM_CHROMIUM"
	EnvStatsInterval = "BROWSER_STREAM_STATS_INTERVAL_SEC"
	EnvJPEGQuality   = "BROWSER_STREAM_JPEG_QUALITY"
)

func BoolEnv(name string, defaultValue bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return defaultValue
	}

	switch v {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return defaultValue
	}
}

func IntEnvClamped(name string, defaultValue, minValue, maxValue int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}

	if minValue <= maxValue {
		n = min(max(n, minValue), maxValue)
	}
	return n
}

// LoadDotEnv loads KEY=value pairs from path without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
