package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DB_CONFIG"), []byte(body), 0644))
}

func TestLoadParsesRecognizedDirectives(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
# comment line

set_data_dir data
set_lg_bsize 65536
set_lk_detect YOUNGEST
set_flags TXN_NOSYNC DIRECT_LOG
set_lock_timeout 500000
set_mp_max_write 10 5
`)

	cfg := Default()
	require.NoError(t, cfg.Load(dir))

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, 65536, cfg.LgBSize)
	assert.Equal(t, LockDetectYoungest, cfg.LkDetect)
	assert.True(t, cfg.Flags["TXN_NOSYNC"])
	assert.True(t, cfg.Flags["DIRECT_LOG"])
	assert.Equal(t, 500*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, [2]int{10, 5}, cfg.MpMaxWrite)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	require.NoError(t, cfg.Load(dir))
	assert.Equal(t, dir, cfg.DataDir)
}

func TestLoadRejectsUnrecognizedDirective(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "set_bogus_thing 1\n")
	cfg := Default()
	err := cfg.Load(dir)
	require.Error(t, err)
}

func TestResolveHomePrefersExplicitArg(t *testing.T) {
	home, err := ResolveHome(CommandLineArgs{Home: "/explicit"}, false)
	require.NoError(t, err)
	assert.Equal(t, "/explicit", home)
}

func TestResolveHomeRejectsEmptyEnv(t *testing.T) {
	t.Setenv("DB_HOME", "")
	_, err := ResolveHome(CommandLineArgs{}, false)
	require.Error(t, err)
}

func TestResolveHomeUsesEnviron(t *testing.T) {
	t.Setenv("DB_HOME", "/from/env")
	home, err := ResolveHome(CommandLineArgs{}, false)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", home)
}
