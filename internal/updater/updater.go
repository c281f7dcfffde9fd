// Package updater delegates client updates to external commands and
// relaunches the process after an install.
package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

// ErrNotConfigured is returned by Update when no install command is set.
var ErrNotConfigured = errors.New("no update command configured")

// CommandUpdater runs an optional check command and an install command.
//
// The check command exits 0 when an update is available and 1 when the
// client is current; any other outcome is an error. Without a check command
// the install command always runs.
type CommandUpdater struct {
	Check   []string
	Install []string
	Logger  *slog.Logger

	// exec replaces the current process; nil uses the platform default.
	exec func(argv0 string, argv, envv []string) error
}

// Update checks for and installs an update. It reports whether an install
// command completed successfully.
func (u *CommandUpdater) Update(ctx context.Context) (bool, error) {
	if len(u.Install) == 0 {
		return false, ErrNotConfigured
	}
	logger := u.logger()

	if len(u.Check) > 0 {
		out, err := run(ctx, u.Check)
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			logger.Info("update available", "output", out)
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
			return false, nil
		default:
			return false, fmt.Errorf("update check: %w", err)
		}
	}

	out, err := run(ctx, u.Install)
	if err != nil {
		return false, fmt.Errorf("install update: %w", err)
	}
	logger.Info("update installed", "output", out)
	return true, nil
}

// Relaunch replaces the running process with a fresh copy of the installed
// executable, keeping arguments and environment. It only returns on error.
func (u *CommandUpdater) Relaunch() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	execFn := u.exec
	if execFn == nil {
		execFn = relaunch
	}
	u.logger().Info("relaunching", "executable", exe)
	if err := execFn(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("relaunch %s: %w", exe, err)
	}
	return nil
}

func (u *CommandUpdater) logger() *slog.Logger {
	if u.Logger == nil {
		return slog.Default()
	}
	return u.Logger
}

// run executes argv and returns its trimmed combined output.
func run(ctx context.Context, argv []string) (string, error) {
	cmd := commandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err != nil && out != "" {
		return out, fmt.Errorf("%w: %s", err, out)
	}
	return out, err
}
