// Package subprocess re-execs the running binary as a protection
// domain's event handler, mirroring this codebase's own forkstart
// convention: spawn os.Args[0] again with a hidden subcommand and a
// small config file, rather than linking a separate binary per PD.
package subprocess

import (
	"fmt"
	"os"
	"os/exec"
)

// PDSubcommand is the hidden cobra subcommand cmd/microkitd registers
// to re-enter as a spawned PD's event handler.
const PDSubcommand = "pd"

// Command builds the exec.Cmd that spawns name as a protection
// domain: os.Args[0] pd <name> <configPath>, with extraFiles attached
// starting at fd 3 in the child, in the order the caller built them.
func Command(name, configPath string, extraFiles []*os.File) *exec.Cmd {
	cmd := exec.Command(os.Args[0], PDSubcommand, name, configPath)
	cmd.ExtraFiles = extraFiles
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// WriteConfig writes data to a fresh temp file and returns its path.
// The spawned PD is responsible for removing it once read, the same
// lifecycle this codebase's own forkstart config files follow.
func WriteConfig(name string, data []byte) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("microkit-%s-*.json", name))
	if err != nil {
		return "", fmt.Errorf("subprocess: creating config file for %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("subprocess: writing config file for %s: %w", name, err)
	}

	return f.Name(), nil
}
