package terminal

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{" PTY ", ModePTY, false},
		{"pipe", ModePipe, false},
		{"conpty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSpawner(t *testing.T) {
	logger := zaptest.NewLogger(t)

	pipe, err := NewSpawner(ModePipe, logger)
	require.NoError(t, err)
	assert.Equal(t, ModePipe, pipe.Mode())
	assert.Equal(t, pipeLineEnding, pipe.LineEnding())

	auto, err := NewSpawner(ModeAuto, logger)
	require.NoError(t, err)
	if ptySupported {
		assert.Equal(t, ModePTY, auto.Mode())
		assert.Equal(t, "\r", auto.LineEnding())
	} else {
		assert.Equal(t, ModePipe, auto.Mode())
	}

	_, err = NewSpawner("serial", logger)
	assert.Error(t, err)
}

func TestShellCandidates(t *testing.T) {
	t.Setenv("SHELL", "/bin/sh")
	got := shellCandidates("/bin/sh")
	require.NotEmpty(t, got)
	assert.Equal(t, "/bin/sh", got[0])

	seen := map[string]bool{}
	for _, s := range got {
		assert.NotEmpty(t, s)
		assert.False(t, seen[s], "duplicate %s", s)
		seen[s] = true
	}
}

func TestStartFirstFallsBack(t *testing.T) {
	var tried []string
	proc := newFakeProcess()
	got, err := startFirst(StartOptions{Shell: "/nonexistent/shell"}, zaptest.NewLogger(t), func(shell string) (Process, error) {
		tried = append(tried, shell)
		return proc, nil
	})
	require.NoError(t, err)
	assert.Same(t, proc, got)
	// The missing shell is skipped before start is attempted.
	require.NotEmpty(t, tried)
	assert.NotEqual(t, "/nonexistent/shell", tried[0])
}

func TestStartFirstAllFail(t *testing.T) {
	boom := errors.New("boom")
	_, err := startFirst(StartOptions{Shell: "/nonexistent/shell"}, zaptest.NewLogger(t), func(string) (Process, error) {
		return nil, boom
	})
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/nonexistent/shell", se.Shell)
	assert.True(t, strings.Contains(err.Error(), "/nonexistent/shell"))
}

func TestSpawnEnvSetsTerm(t *testing.T) {
	env := spawnEnv([]string{"FOO=bar"})
	assert.Contains(t, env, "TERM=xterm-256color")
	assert.Equal(t, "FOO=bar", env[len(env)-1])
}
