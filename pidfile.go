package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/tonimelisma/coach-go/internal/config"
)

const (
	watchPIDName       = "watch.pid"
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

var errWatchNotRunning = errors.New("coach-go watch is not running")

// watchPIDPath is where a running watch records its PID.
func watchPIDPath() string {
	dir := config.DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, watchPIDName)
}

// lockWatch records the current PID at path under an exclusive flock, so
// only one watch runs per user. The returned release removes the file and
// drops the lock.
func lockWatch(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("cannot place PID file: no data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		pid, _ := readWatchPID(path)

		return nil, fmt.Errorf("coach-go watch is already running (pid %d, lock %s)", pid, path)
	}

	if err := writePID(f); err != nil {
		f.Close()

		return nil, err
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

func readWatchPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s", path)
	}

	return pid, nil
}

// signalReload sends SIGHUP to the watch process recorded at pidPath. A PID
// file left behind by a dead process is removed.
func signalReload(pidPath string) (int, error) {
	pid, err := readWatchPID(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w (no PID file at %s)", errWatchNotRunning, pidPath)
		}

		return 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return pid, fmt.Errorf("%w (pid %d gone, stale PID file removed)", errWatchNotRunning, pid)
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return pid, fmt.Errorf("signalling watch (pid %d): %w", pid, err)
	}

	return pid, nil
}
