//go:build !unix

package updater

import (
	"fmt"
	"os"
	"os/exec"
)

// relaunch starts a new process and exits, since the process image cannot
// be replaced in place.
func relaunch(argv0 string, argv, envv []string) error {
	cmd := exec.Command(argv0, argv[1:]...)
	cmd.Env = envv
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start new process: %w", err)
	}
	os.Exit(0)
	return nil
}
