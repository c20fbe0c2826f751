//go:build windows

package processutil

import (
	"os/exec"
	"syscall"
)

// HideConsoleWindow keeps ffmpeg and the headless shell from opening a
// console window when the streamer is started from a GUI shortcut.
func HideConsoleWindow(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}

// ExecutableName appends the platform executable suffix.
func ExecutableName(name string) string {
	return name + ".exe"
}
