package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testStruct struct {
	configFileName string
	configBody     string

	expectedError      error
	expectedConfigBody string
}

func TestGetConfigString(t *testing.T) {
	dir := t.TempDir()
	tests := []testStruct{
		{"", "", nil, ""},
		{"", "configBody", nil, "configBody"},
		{filepath.Join(dir, "file"), "configBody", nil, "configBody"},
		{filepath.Join(dir, "file"), "", nil, "fileContent"},
	}
	for _, test := range tests {
		func() {
			writeConfigFile(test, t)
			defer os.Remove(test.configFileName)

			configBody, err := getConfigString(test.configFileName, test.configBody)
			require.Equal(t, test.expectedError, err)
			require.Equal(t, test.expectedConfigBody, configBody)
		}()
	}
}

func TestGetConfigStringExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.yaml"), []byte("development: true"), 0o644))
	t.Setenv("SESSIONCTL_TEST_DIR", dir)

	configBody, err := getConfigString("$SESSIONCTL_TEST_DIR/session.yaml", "")
	require.NoError(t, err)
	require.Equal(t, "development: true", configBody)
}

func TestShouldReturnErrorIfConfigFileDoesNotExist(t *testing.T) {
	configBody, err := getConfigString("notExistingFile", "")
	require.Error(t, err)
	require.Empty(t, configBody)
}

func TestFormatBitrate(t *testing.T) {
	require.Equal(t, "-", formatBitrate(0))
	require.Equal(t, "64 kbps", formatBitrate(64_000))
	require.Equal(t, "1.5 Mbps", formatBitrate(1_500_000))
}

func writeConfigFile(test testStruct, t *testing.T) {
	if test.configFileName != "" {
		d1 := []byte(test.expectedConfigBody)
		err := os.WriteFile(test.configFileName, d1, 0o644)
		require.NoError(t, err)
	}
}
