//go:build unix

package debugger

import (
	"os/exec"
	"syscall"
)

// setupProcAttr puts delve in its own process group so an interrupt aimed at
// the REPL does not reach the debugged target.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
