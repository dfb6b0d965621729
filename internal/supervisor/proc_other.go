//go:build !unix

package supervisor

import "os/exec"

// configureProcessGroup relies on exec.CommandContext's default kill.
func configureProcessGroup(_ *exec.Cmd) {}
