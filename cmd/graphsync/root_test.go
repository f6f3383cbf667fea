package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/agentworkforce/graphsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"run", "checkpoints", "version"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "subcommand %s not found", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestRootCommandFlagDefaults(t *testing.T) {
	cmd := newRootCommand()

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "text", output.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	stream := run.Flags().Lookup("stream")
	require.NotNil(t, stream)
	assert.Equal(t, "[]", stream.DefValue)
}

func TestRootCommandRejectsUnknownOutput(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--output", "yaml", "version"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
	wrapped := configError(config.ErrMissingConfig)
	assert.Equal(t, exitConfig, exitCode(wrapped))
	assert.True(t, errors.Is(wrapped, config.ErrMissingConfig))
}
