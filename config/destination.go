package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrMissingDestination = errors.New("provide either --output or both --rtmp-url and --stream-key")
	ErrEmptyStreamKey     = errors.New("stream key cannot be empty")
	ErrInvalidOutputURL   = errors.New("invalid RTMP output URL")
)

type InvalidSchemeError struct {
	Scheme string
}

func (e *InvalidSchemeError) Error() string {
	return fmt.Sprintf("RTMP URL scheme must be rtmp or rtmps, got %q", e.Scheme)
}

// BuildOutput resolves the ffmpeg destination. A non-empty output wins;
// otherwise rtmpURL and streamKey are joined with a single slash.
func BuildOutput(output, rtmpURL, streamKey string) (string, error) {
	if full := strings.TrimSpace(output); full != "" {
		if err := validateOutputURL(full); err != nil {
			return "", err
		}
		return full, nil
	}

	if strings.TrimSpace(rtmpURL) == "" || streamKey == "" {
		return "", ErrMissingDestination
	}

	key := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(streamKey), "/"))
	if key == "" {
		return "", ErrEmptyStreamKey
	}

	merged := strings.TrimRight(strings.TrimSpace(rtmpURL), "/") + "/" + key
	if err := validateOutputURL(merged); err != nil {
		return "", err
	}
	return merged, nil
}

func validateOutputURL(candidate string) error {
	u, err := url.Parse(candidate)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w %q", ErrInvalidOutputURL, candidate)
	}
	switch strings.ToLower(u.Scheme) {
	case "rtmp", "rtmps":
		return nil
	default:
		return &InvalidSchemeError{Scheme: u.Scheme}
	}
}
