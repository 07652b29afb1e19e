package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "hello-openice version "+Version)
}

func TestRun_Validate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log": {"format": "text"}}`), 0600))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-validate", "-config", path, "12"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "Configuration is valid")
	assert.Contains(t, stderr.String(), "domain=12")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"subscriber": {"topics": []}}`), 0600))

	err := run(context.Background(), []string{"-validate", "-config", path}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "at least one topic")
}

func TestRun_SimulateUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var stdout, stderr syncBuffer
	err := run(ctx, []string{"-simulate", "-simulate-rate=20ms", "-log-format=text"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.True(t, strings.Contains(stdout.String(), "SpO2"), "stdout: %s", stdout.String())
}
