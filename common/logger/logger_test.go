package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WithoutSink(t *testing.T) {
	l, err := New("development", nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNew_TeesIntoSink(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("production", &buf)
	require.NoError(t, err)

	l.Info("payment reconciled")
	_ = l.Sync()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "payment reconciled", entry["msg"])
	assert.Contains(t, entry, "timestamp")
}
