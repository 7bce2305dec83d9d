package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/glimte/mailrelay/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newLogger(&buf, config.Log{Level: "info", Format: "json"})
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("message consumed", "queue", "user_registered_queue")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "message consumed", entry["msg"])
		assert.Equal(t, "user_registered_queue", entry["queue"])
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := newLogger(&buf, config.Log{Level: "debug", Format: "text"})
		require.NoError(t, err)

		logger.Debug("schema did not match")
		assert.Contains(t, buf.String(), "level=DEBUG")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := newLogger(&bytes.Buffer{}, config.Log{Level: "info", Format: "xml"})
		assert.Error(t, err)

		_, err = newLogger(&bytes.Buffer{}, config.Log{Level: "loud", Format: "json"})
		assert.Error(t, err)
	})
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "mailrelay dev")
}

func TestPublishRequiresEmail(t *testing.T) {
	for _, sub := range []string{"user-registered", "user-created", "email-command"} {
		t.Run(sub, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs([]string{"publish", sub})

			err := cmd.Execute()
			assert.ErrorIs(t, err, errMissingFlag)
		})
	}
}

func TestCommands(t *testing.T) {
	cmd := newRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"serve", "topology", "publish", "version"})
}

func TestOptional(t *testing.T) {
	assert.Nil(t, optional(""))
	require.NotNil(t, optional("Ada"))
	assert.Equal(t, "Ada", *optional("Ada"))
}
