package rotator

import (
	"fmt"
	"sync"
)

// FileInfo is the per-output-file metadata mutated only via FileTable's
// guarded setters, between run boundaries.
type FileInfo struct {
	Filename    string
	Description string
}

// FileTable holds one FileInfo per parallel output file index. Spec §9
// tightens a legacy "index > size silently accepted" path to a hard
// out-of-range error at index >= size.
type FileTable struct {
	mu    sync.RWMutex
	infos []FileInfo
}

// NewFileTable builds a table of n entries with the default filenames
// "sandfly_out_<k>.egg".
func NewFileTable(n int) *FileTable {
	infos := make([]FileInfo, n)
	for k := range infos {
		infos[k] = FileInfo{Filename: fmt.Sprintf("sandfly_out_%d.egg", k)}
	}
	return &FileTable{infos: infos}
}

// Size returns the number of configured parallel output files.
func (t *FileTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.infos)
}

// Get returns the FileInfo at index, or an out-of-range error.
func (t *FileTable) Get(index int) (FileInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.infos) {
		return FileInfo{}, fmt.Errorf("rotator: file index %d out of range (size %d)", index, len(t.infos))
	}
	return t.infos[index], nil
}

// Set overwrites the FileInfo at index, or fails with an out-of-range
// error when index >= Size() — spec §9's tightened invariant.
func (t *FileTable) Set(index int, info FileInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.infos) {
		return fmt.Errorf("rotator: file index %d out of range (size %d)", index, len(t.infos))
	}
	t.infos[index] = info
	return nil
}

// SetFilename is the narrow setter exposed to the CLI/config path
// (spec §6: set_filename(k, name) before start_files()).
func (t *FileTable) SetFilename(index int, name string) error {
	info, err := t.Get(index)
	if err != nil {
		return err
	}
	info.Filename = name
	return t.Set(index, info)
}
