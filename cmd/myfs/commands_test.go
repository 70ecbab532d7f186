package main

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-myfs/common"
	"github.com/mit-pdos/go-myfs/config"
	"github.com/mit-pdos/go-myfs/fs"
)

func TestPreviewFormat(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, previewFormat(&cfg, 256))

	cfg.BlockSize = 512
	assert.ErrorIs(t, previewFormat(&cfg, 256), common.ErrInvalid)
}

func TestPrintStat(t *testing.T) {
	var out bytes.Buffer
	printStat(&out, fs.Stat{
		Name:       "vol",
		VolumeID:   uuid.Nil,
		BlockSize:  4096,
		NumBlocks:  10000,
		UsedBlocks: 1500,
		FreeBlocks: 8500,
		Clean:      true,
	})
	assert.Contains(t, out.String(), "blocks: 1,500 of 10,000 used, 8,500 free, 4,096 bytes each\n")
	assert.Contains(t, out.String(), "clean: true\n")
}
