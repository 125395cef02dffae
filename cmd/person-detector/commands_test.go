package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeyg42/person-detector/internal/config"
	"github.com/mikeyg42/person-detector/internal/crypto"
)

// inDir runs the test from dir and forgets the master key afterwards, since
// .env files are loaded into the process environment.
func inDir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Unsetenv(config.MasterKeyEnv))
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv(config.MasterKeyEnv)
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// sealedSetup writes a config with a sealed credential and a .env file
// holding the key that opens it.
func sealedSetup(t *testing.T) (dir, cfgPath string) {
	t.Helper()
	key, err := crypto.GenerateMasterKey()
	require.NoError(t, err)
	sealed, err := crypto.Seal("api-key", key)
	require.NoError(t, err)

	dir = t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("nvr:\n  api_key: "+sealed+"\nevents:\n  location: UTC\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(config.MasterKeyEnv+"="+key+"\n"), 0o600))
	return dir, cfgPath
}

func TestCheckLoadsEnvFile(t *testing.T) {
	dir, cfgPath := sealedSetup(t)
	inDir(t, dir)

	report := filepath.Join(dir, "result.txt")
	require.NoError(t, os.WriteFile(report, []byte("car: 90%\nperson: 91%\n"), 0o644))

	out, err := execute(t, "--config", cfgPath, "check", report)
	require.NoError(t, err)
	assert.Equal(t, "person detected: 91% (line 2)\n", out)
}

func TestParseLoadsEnvFile(t *testing.T) {
	dir, cfgPath := sealedSetup(t)
	inDir(t, dir)

	logPath := filepath.Join(dir, "recording.log")
	line := "1 2020-05-09 12:30:45.100 INFO Camera[AA:BB|Garage] STOPPING motionRecording id:rec123\n"
	require.NoError(t, os.WriteFile(logPath, []byte(line), 0o644))

	out, err := execute(t, "--config", cfgPath, "parse", logPath)
	require.NoError(t, err)
	assert.Equal(t, "2020-05-09 12:30:45\tAA:BB\tGarage\trec123\n", out)
}

func TestCheckWithoutKeyFails(t *testing.T) {
	dir, cfgPath := sealedSetup(t)
	require.NoError(t, os.Remove(filepath.Join(dir, ".env")))
	inDir(t, dir)

	_, err := execute(t, "--config", cfgPath, "check", filepath.Join(dir, "result.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is sealed")
}
