package main

import (
	"bytes"
	"context"
	"flag"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v2"
)

func loggerContext(t *testing.T, args ...string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("log-level", "info", "")
	set.String("log-format", "json", "")
	set.Bool("debug", false, "")
	require.NoError(t, set.Parse(args))
	return cli.NewContext(nil, set, nil)
}

func TestConfigLogger(t *testing.T) {
	assert := assert.New(t)
	defer slog.SetDefault(slog.Default())

	var buf bytes.Buffer
	logger, err := configLogger(loggerContext(t, "--log-level", "warn"), &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "community", "testcommunity")
	assert.NotContains(buf.String(), "hidden")
	assert.Contains(buf.String(), `"community":"testcommunity"`)

	buf.Reset()
	logger, err = configLogger(loggerContext(t, "--debug", "--log-format", "text"), &buf)
	require.NoError(t, err)
	assert.True(logger.Enabled(context.Background(), slog.LevelDebug))
	logger.Debug("details")
	assert.Contains(buf.String(), "msg=details")

	_, err = configLogger(loggerContext(t, "--log-level", "loud"), &buf)
	assert.Error(err)
	_, err = configLogger(loggerContext(t, "--log-format", "xml"), &buf)
	assert.Error(err)
}
