package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-myfs/common"
)

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *c)
}

func TestLayering(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "myfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blockSize: 1024\njournal: true\nvolumeName: scratch\n"), 0644))
	t.Setenv("MYFS_VOLUME_NAME", "fromenv")
	t.Setenv("MYFS_CACHE_BLOCKS", "0")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(int64(1024), c.BlockSize, "file overrides the default")
	assert.True(c.Journal)
	assert.Equal("fromenv", c.VolumeName, "environment overrides the file")
	assert.Equal(0, c.CacheBlocks)
	assert.Equal(int64(16), c.InodeRatio, "untouched values keep their default")
}

func TestUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "myfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blocksize: 1024\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mod := range map[string]func(*Config){
		"not a power of two": func(c *Config) { c.BlockSize = 1000 },
		"too small":          func(c *Config) { c.BlockSize = 256 },
		"zero ratio":         func(c *Config) { c.InodeRatio = 0 },
		"negative cache":     func(c *Config) { c.CacheBlocks = -1 },
		"long name":          func(c *Config) { c.VolumeName = "0123456789abcdef0123456789abcdef" },
	} {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mod(&c)
			assert.ErrorIs(t, c.Validate(), common.ErrInvalid)
		})
	}
}

func TestEnvOnly(t *testing.T) {
	t.Setenv("MYFS_BLOCK_SIZE", "300")
	_, err := Load("")
	assert.ErrorIs(t, err, common.ErrInvalid)
}
