package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeystoreGenerateAndShow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KEYSTORE_PASSWORD", "hunter2")

	out, err := runCLI(t, "keystore", "generate", "--dir", dir)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	address := strings.TrimSpace(strings.TrimPrefix(lines[0], "address:"))
	require.NotEmpty(t, address)
	assert.Contains(t, lines[1], dir)

	out, err = runCLI(t, "keystore", "show", address, "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "address: "+address+"\n", out)

	t.Setenv("KEYSTORE_PASSWORD", "wrong")
	_, err = runCLI(t, "keystore", "show", address, "--dir", dir)
	assert.Error(t, err)
}

func TestKeystoreRequiresPassword(t *testing.T) {
	t.Setenv("KEYSTORE_PASSWORD", "")
	_, err := runCLI(t, "keystore", "generate", "--dir", t.TempDir())
	assert.EqualError(t, err, "KEYSTORE_PASSWORD is required")
}
