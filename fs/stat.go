package fs

import (
	"github.com/google/uuid"

	"github.com/mit-pdos/go-myfs/common"
)

// Stat is a point-in-time summary of a volume.
type Stat struct {
	Name       string    `json:"name"`
	VolumeID   uuid.UUID `json:"volumeID"`
	BlockSize  int64     `json:"blockSize"`
	NumBlocks  int64     `json:"numBlocks"`
	UsedBlocks int64     `json:"usedBlocks"`
	FreeBlocks int64     `json:"freeBlocks"`
	NumInodes  int64     `json:"numInodes"`
	FreeInodes int64     `json:"freeInodes"`
	MaxFile    int64     `json:"maxFileSize"`
	Clean      bool      `json:"clean"`
	ReadOnly   bool      `json:"readOnly"`
}

func (v *Volume) Stat() (Stat, error) {
	if err := v.begin(false); err != nil {
		return Stat{}, err
	}
	defer v.lock.RUnlock()
	v.sbLock.Lock()
	st := Stat{
		Name:      v.sb.Name,
		VolumeID:  v.sb.VolumeID,
		BlockSize: v.sb.BlockSize,
		NumBlocks: v.sb.NumBlocks,
		NumInodes: v.sb.NumInodes,
		Clean:     v.sb.IsClean(),
		ReadOnly:  v.readOnly,
	}
	v.sbLock.Unlock()
	st.UsedBlocks = v.smap.UsedBlocks()
	st.FreeBlocks = st.NumBlocks - st.UsedBlocks
	st.FreeInodes = v.imap.NumFree()
	st.MaxFile = v.mapper.Geometry().MaxDouble
	return st, nil
}

// Inodes returns the numbers of all allocated inodes in increasing order.
func (v *Volume) Inodes() ([]common.Inum, error) {
	if err := v.begin(false); err != nil {
		return nil, err
	}
	defer v.lock.RUnlock()
	var inums []common.Inum
	v.imap.Apply(func(inum common.Inum) {
		inums = append(inums, inum)
	})
	return inums, nil
}
