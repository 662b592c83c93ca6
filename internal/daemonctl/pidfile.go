package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ReadPID returns the PID recorded at path, or 0 when the file is absent.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q is malformed", path)
	}
	return pid, nil
}

// WritePIDFile records the current process id at path. An empty path is a
// no-op.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// ForceKillProcess SIGKILLs the daemon named by the PID file (or fallbackPID
// when the file is unusable) and removes the stale pid and lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := ReadPID(pidPath)
	if err != nil || pid == 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if err := signalProcess(pid, unix.SIGKILL); err != nil {
		return 0, err
	}
	for _, stale := range []string{pidPath, lockPath} {
		if stale == "" {
			continue
		}
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return pid, fmt.Errorf("remove %q: %w", stale, err)
		}
	}
	return pid, nil
}

// signalProcess delivers sig to pid. An already-exited process is not an
// error; signalling ourselves is.
func signalProcess(pid int, sig unix.Signal) error {
	switch {
	case pid <= 0:
		return fmt.Errorf("invalid pid %d", pid)
	case pid == os.Getpid():
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	err := unix.Kill(pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("signal daemon process %d: %w", pid, err)
}
