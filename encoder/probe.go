package encoder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go2tv.app/browserstream/internal/processutil"
)

const probeTimeout = 5 * time.Second

// Probe checks that the ffmpeg binary lists every encoder the argument
// grammar depends on.
func Probe(ctx context.Context, ffmpegPath string, includeAudio bool) error {
	available, err := encoderSet(ctx, ffmpegPath)
	if err != nil {
		return err
	}

	required := []string{videoCodec}
	if includeAudio {
		required = append(required, audioCodec)
	}

	if missing := missingEncoders(available, required); len(missing) > 0 {
		return fmt.Errorf("ffmpeg at %s lacks encoders: %s", ffmpegPath, strings.Join(missing, ", "))
	}
	return nil
}

func encoderSet(ctx context.Context, ffmpegPath string) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	processutil.HideConsoleWindow(cmd)
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ffmpeg -encoders timeout after %s", probeTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders failed: %w", err)
	}

	return parseEncoderList(string(out)), nil
}

func parseEncoderList(out string) map[string]struct{} {
	encoders := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		// " V....D libx264  libx264 H.264 ..." -> flags, name, description.
		flags := fields[0]
		if len(flags) != 6 || strings.Trim(flags, "VASFXBD.") != "" {
			continue
		}
		encoders[fields[1]] = struct{}{}
	}
	return encoders
}

func missingEncoders(available map[string]struct{}, required []string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := available[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
