//go:build unix

package pidlock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAcquireExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "taskbot.pid")

	l, err := Acquire(path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))

	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), strconv.Itoa(os.Getpid()))

	require.NoError(t, l.Release())
	b, err = os.ReadFile(path)
	require.NoError(t, err, "pid file is kept after release")
	assert.Empty(t, b)

	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
	require.NoError(t, l2.Release())
}

func TestReleaseKeepsOneLockHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbot.pid")

	l, err := Acquire(path)
	require.NoError(t, err)

	// A starter that opened the file while it was still held.
	early, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer early.Close()

	require.NoError(t, l.Release())
	require.NoError(t, unix.Flock(int(early.Fd()), unix.LOCK_EX|unix.LOCK_NB))

	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrLocked, "a later starter must see the early one's lock")
}
