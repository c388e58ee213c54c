//go:build !unix

package render

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func terminateGroup(p *os.Process) {
	if p != nil {
		_ = p.Kill()
	}
}

func killGroup(p *os.Process) {
	if p != nil {
		_ = p.Kill()
	}
}
