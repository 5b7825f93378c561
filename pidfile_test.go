package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockWatch_RecordsCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", watchPIDName)

	release, err := lockWatch(path)
	require.NoError(t, err)

	defer release()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLockWatch_SecondInstanceRefused(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), watchPIDName)

	release, err := lockWatch(path)
	require.NoError(t, err)

	defer release()

	second, err := lockWatch(path)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.Contains(t, err.Error(), "already running")
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))
}

func TestLockWatch_ReleaseRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), watchPIDName)

	release, err := lockWatch(path)
	require.NoError(t, err)

	release()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// The lock is free again.
	again, err := lockWatch(path)
	require.NoError(t, err)
	again()
}

func TestLockWatch_EmptyPath(t *testing.T) {
	t.Parallel()

	release, err := lockWatch("")
	assert.Error(t, err)
	assert.Nil(t, release)
}

func TestReadWatchPID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.pid")
	require.NoError(t, os.WriteFile(valid, []byte("12345\n"), 0o644))

	pid, err := readWatchPID(valid)
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)

	garbage := filepath.Join(dir, "garbage.pid")
	require.NoError(t, os.WriteFile(garbage, []byte("not-a-pid\n"), 0o644))

	_, err = readWatchPID(garbage)
	assert.ErrorContains(t, err, "invalid PID")

	_, err = readWatchPID(filepath.Join(dir, "missing.pid"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSignalReload_NoPIDFile(t *testing.T) {
	t.Parallel()

	_, err := signalReload(filepath.Join(t.TempDir(), "missing.pid"))
	assert.ErrorIs(t, err, errWatchNotRunning)
}

func TestSignalReload_StalePIDFileRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), watchPIDName)
	// Far above any real pid_max.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

	_, err := signalReload(path)
	assert.ErrorIs(t, err, errWatchNotRunning)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignalReload_DeliversSIGHUP(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	defer signal.Stop(sigCh)

	path := filepath.Join(t.TempDir(), watchPIDName)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	pid, err := signalReload(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	select {
	case sig := <-sigCh:
		assert.Equal(t, syscall.SIGHUP, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}
