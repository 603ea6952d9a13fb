//go:build windows

package coretools

import "os/exec"

func killGroupOnCancel(cmd *exec.Cmd) {}

func setProcessGroup(cmd *exec.Cmd) {}

func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
