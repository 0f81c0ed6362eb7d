//go:build windows

package debugger

import (
	"os/exec"
	"syscall"
)

// setupProcAttr keeps delve from opening a console window.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
