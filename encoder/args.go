package encoder

import (
	"fmt"
	"math"
	"strconv"
)

const (
	videoCodec    = "libx264"
	videoPreset   = "veryfast"
	outputPixFmt  = "yuv420p"
	inputPixFmt   = "rgb24"
	silentAudio   = "anullsrc=r=48000:cl=stereo"
	audioCodec    = "aac"
	audioBitrate  = "128k"
	audioRate     = "48000"
	audioChannels = "2"
	outputFormat  = "flv"
)

// Settings describes one encoder invocation.
type Settings struct {
	Width       uint32
	Height      uint32
	FPS         uint32
	BitrateKbps uint32
	KeyintSec   uint32
	X264Opts    string
	Output      string

	IncludeSilentAudio bool
	FFmpegPath         string
}

// Keyint is the GOP size and minimum keyframe interval in frames.
func (s Settings) Keyint() uint32 {
	return max(1, saturatingMul(s.FPS, s.KeyintSec))
}

// BuildArgs returns the ffmpeg arguments at the default "warning" log level.
func BuildArgs(s Settings) []string {
	return BuildArgsWithLogLevel(s, "warning")
}

// BuildArgsWithLogLevel returns the ffmpeg arguments for s. The destination
// is always the last argument.
func BuildArgsWithLogLevel(s Settings, logLevel string) []string {
	keyint := strconv.FormatUint(uint64(s.Keyint()), 10)
	bitrate := fmt.Sprintf("%dk", s.BitrateKbps)
	bufsize := fmt.Sprintf("%dk", saturatingMul(s.BitrateKbps, 2))

	args := []string{
		"-hide_banner",
		"-loglevel", logLevel,
		"-stats_period", "5",
		"-stats",
		"-f", "rawvideo",
		"-pix_fmt", inputPixFmt,
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-r", strconv.FormatUint(uint64(s.FPS), 10),
		"-i", "-",
	}

	if s.IncludeSilentAudio {
		args = append(args,
			"-f", "lavfi",
			"-i", silentAudio,
		)
	}

	args = append(args,
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-pix_fmt", outputPixFmt,
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", bufsize,
		"-g", keyint,
		"-keyint_min", keyint,
		"-x264-params", s.X264Opts,
	)

	if s.IncludeSilentAudio {
		args = append(args,
			"-c:a", audioCodec,
			"-b:a", audioBitrate,
			"-ar", audioRate,
			"-ac", audioChannels,
		)
	} else {
		args = append(args, "-an")
	}

	return append(args, "-f", outputFormat, s.Output)
}

func saturatingMul(a, b uint32) uint32 {
	p := uint64(a) * uint64(b)
	if p > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(p)
}
