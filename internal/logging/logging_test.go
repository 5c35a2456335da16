package logging_test

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"

	"ciphermesh/internal/logging"
)

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "warn")
	require.NoError(t, err)

	level.Info(logger).Log("msg", "hidden")
	level.Warn(logger).Log("msg", "shown", "peer", "bob")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "level=warn")
	require.Contains(t, out, "msg=shown")
	require.Contains(t, out, "peer=bob")
	require.Contains(t, out, "ts=")
	require.Contains(t, out, "caller=")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := logging.New(&bytes.Buffer{}, "chatty")
	require.Error(t, err)
}
