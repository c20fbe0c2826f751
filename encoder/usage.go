package encoder

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of the ffmpeg process.
type Usage struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Usage samples ffmpeg CPU and resident memory.
func (p *Process) Usage(ctx context.Context) (Usage, error) {
	if exited, _ := p.PollExit(); exited {
		return Usage{}, ErrEncoderExited
	}
	pid := p.Pid()
	if pid <= 0 {
		return Usage{}, errors.New("ffmpeg pid unavailable")
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, fmt.Errorf("inspect ffmpeg pid %d: %w", pid, err)
	}

	var u Usage
	if u.CPUPercent, err = proc.CPUPercentWithContext(ctx); err != nil {
		return Usage{}, fmt.Errorf("ffmpeg cpu usage: %w", err)
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("ffmpeg memory usage: %w", err)
	}
	u.RSSBytes = mem.RSS
	return u, nil
}
