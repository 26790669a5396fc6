//go:build windows

package runner

import "os/exec"

func setSysProcAttr(_ *exec.Cmd) {}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
