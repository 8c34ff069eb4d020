package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	require.Equal(t, ".", c.RootDir)
	require.True(t, c.FileSharingEnabled)

	c = NewConfig(WithRootDir("/tmp/kalium"), WithLoggingPrefix("kalium"), WithFileSharing(false))
	require.Equal(t, "/tmp/kalium", c.RootDir)
	require.Equal(t, "kalium", c.LoggingPrefix)
	require.False(t, c.FileSharingEnabled)
}

func TestFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.Nil(t, os.WriteFile(path, []byte("root_dir: "+dir+"\nlogging_prefix: kalium\nfile_sharing_enabled: false\n"), 0o600))

	c, err := FromFile(path)
	require.Nil(t, err)
	require.Equal(t, dir, c.RootDir)
	require.Equal(t, "kalium", c.LoggingPrefix)
	require.False(t, c.FileSharingEnabled)

	// options win over file values
	c, err = FromFile(path, WithFileSharing(true))
	require.Nil(t, err)
	require.True(t, c.FileSharingEnabled)
}

func TestFromFileMissing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
