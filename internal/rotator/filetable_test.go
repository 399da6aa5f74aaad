package rotator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFileTableDefaultFilenames(t *testing.T) {
	tbl := NewFileTable(3)
	assert.Equal(t, 3, tbl.Size())

	info, err := tbl.Get(0)
	assert.NoError(t, err)
	assert.Equal(t, "sandfly_out_0.egg", info.Filename)
}

func TestFileTableGetOutOfRange(t *testing.T) {
	tbl := NewFileTable(1)
	_, err := tbl.Get(1)
	assert.Error(t, err)
	_, err = tbl.Get(-1)
	assert.Error(t, err)
}

func TestFileTableSetOutOfRangeRejected(t *testing.T) {
	tbl := NewFileTable(1)
	err := tbl.Set(1, FileInfo{Filename: "x"})
	assert.Error(t, err)
}

func TestFileTableSetFilename(t *testing.T) {
	tbl := NewFileTable(2)
	assert.NoError(t, tbl.SetFilename(1, "custom.egg"))

	info, err := tbl.Get(1)
	assert.NoError(t, err)
	assert.Equal(t, "custom.egg", info.Filename)
}

func TestFileTableSetFilenameOutOfRange(t *testing.T) {
	tbl := NewFileTable(1)
	err := tbl.SetFilename(5, "x")
	assert.Error(t, err)
}
