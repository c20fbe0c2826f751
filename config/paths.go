package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go2tv.app/browserstream/internal/processutil"
)

type MissingSidecarError struct {
	Name string
	Path string
}

func (e *MissingSidecarError) Error() string {
	return fmt.Sprintf("required %s binary not found at %s", e.Name, e.Path)
}

// Paths are the external binaries one attempt launches.
type Paths struct {
	FFmpeg   string
	Chromium string
}

func FFmpegSidecarPath(exeDir string) string {
	return filepath.Join(exeDir, "..", "sidecar", "ffmpeg", processutil.ExecutableName("ffmpeg"))
}

func ChromiumSidecarPath(exeDir string) string {
	return filepath.Join(exeDir, "..", "sidecar", "chromium", processutil.ExecutableName("headless_shell"))
}

// ExecutableDir is the directory holding the running binary.
func ExecutableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to determine current executable path: %w", err)
	}
	return filepath.Dir(exe), nil
}

// ResolvePaths finds ffmpeg and the headless shell. Explicit overrides must
// exist. ffmpeg falls back from the sidecar layout next to the binary to
// PATH; on macOS PATH is tried first.
func (c *Config) ResolvePaths(exeDir string) (Paths, error) {
	ffmpeg, err := resolveFFmpeg(c.FFmpegPath, exeDir, runtime.GOOS == "darwin", exec.LookPath)
	if err != nil {
		return Paths{}, err
	}
	chromium, err := resolveBinary(c.ChromiumPath, ChromiumSidecarPath(exeDir), "headless_shell")
	if err != nil {
		return Paths{}, err
	}
	return Paths{FFmpeg: ffmpeg, Chromium: chromium}, nil
}

func resolveBinary(override, fallback, name string) (string, error) {
	candidate := strings.TrimSpace(override)
	if candidate == "" {
		candidate = fallback
	}
	if isFile(candidate) {
		return candidate, nil
	}
	return "", &MissingSidecarError{Name: name, Path: candidate}
}

func resolveFFmpeg(override, exeDir string, preferSystem bool, lookPath func(string) (string, error)) (string, error) {
	if strings.TrimSpace(override) != "" {
		return resolveBinary(override, "", "ffmpeg")
	}

	sidecar := FFmpegSidecarPath(exeDir)
	system, err := lookPath("ffmpeg")
	hasSystem := err == nil && system != ""

	if preferSystem && hasSystem {
		return system, nil
	}
	if isFile(sidecar) {
		return sidecar, nil
	}
	if hasSystem {
		return system, nil
	}
	return "", &MissingSidecarError{Name: "ffmpeg", Path: sidecar}
}

func isFile(p string) bool {
	if p == "" {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
