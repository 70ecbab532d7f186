// Package config holds the tunables for formatting and mounting a volume.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// MYFS_* environment variables. Command-line flags are applied last by the
// caller.
package config

import (
	"fmt"
	"io/ioutil"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/util"
)

const envVarPrefix = "MYFS"

type Config struct {
	VolumeName  string `envconfig:"VOLUME_NAME"  yaml:"volumeName"`
	BlockSize   int64  `envconfig:"BLOCK_SIZE"   yaml:"blockSize"`
	CacheBlocks int    `envconfig:"CACHE_BLOCKS" yaml:"cacheBlocks"` // 0 disables the block cache
	InodeRatio  int64  `envconfig:"INODE_RATIO"  yaml:"inodeRatio"`  // blocks per inode at format time
	Journal     bool   `envconfig:"JOURNAL"      yaml:"journal"`
	ReadOnly    bool   `envconfig:"READ_ONLY"    yaml:"readOnly"`
	Debug       uint64 `envconfig:"DEBUG"        yaml:"debug"`
}

func Default() Config {
	return Config{
		VolumeName:  "myfs",
		BlockSize:   4096,
		CacheBlocks: 1024,
		InodeRatio:  16,
	}
}

// Load builds a configuration from the defaults, the YAML file at path (if
// path is not empty), and the environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}
	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if !util.IsPowerOfTwo(c.BlockSize) || c.BlockSize < common.MINBLOCKSIZE {
		return fmt.Errorf("blockSize / %s_BLOCK_SIZE %d: must be a power of two of at least %d: %w",
			envVarPrefix, c.BlockSize, common.MINBLOCKSIZE, common.ErrInvalid)
	}
	if c.InodeRatio <= 0 {
		return fmt.Errorf("inodeRatio / %s_INODE_RATIO %d: must be positive: %w",
			envVarPrefix, c.InodeRatio, common.ErrInvalid)
	}
	if c.CacheBlocks < 0 {
		return fmt.Errorf("cacheBlocks / %s_CACHE_BLOCKS %d: must not be negative: %w",
			envVarPrefix, c.CacheBlocks, common.ErrInvalid)
	}
	if len(c.VolumeName) >= common.NAMELEN {
		return fmt.Errorf("volumeName / %s_VOLUME_NAME %q: longer than %d bytes: %w",
			envVarPrefix, c.VolumeName, common.NAMELEN-1, common.ErrInvalid)
	}
	return nil
}

// Apply installs the process-wide settings, currently the debug level.
func (c *Config) Apply() {
	util.SetDebug(c.Debug)
}
