//go:build unix

package updater

import "golang.org/x/sys/unix"

func relaunch(argv0 string, argv, envv []string) error {
	return unix.Exec(argv0, argv, envv)
}
