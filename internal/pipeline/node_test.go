package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapNodeApplyAndDumpConfig(t *testing.T) {
	n := NewMapNode(map[string]any{"a": 1}, nil)
	assert.NoError(t, n.ApplyConfig(map[string]any{"b": 2}))

	cfg := n.DumpConfig()
	assert.Equal(t, 1, cfg["a"])
	assert.Equal(t, 2, cfg["b"])
}

func TestMapNodeDumpConfigIsACopy(t *testing.T) {
	n := NewMapNode(map[string]any{"a": 1}, nil)
	cfg := n.DumpConfig()
	cfg["a"] = 99

	assert.Equal(t, 1, n.DumpConfig()["a"])
}

func TestMapNodeRunCommandUnknown(t *testing.T) {
	n := NewMapNode(nil, nil)
	ok, err := n.RunCommand("whatever", nil)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestMapNodeRunCommandSuccess(t *testing.T) {
	called := false
	n := NewMapNode(nil, map[string]func(args map[string]any) error{
		"go": func(args map[string]any) error { called = true; return nil },
	})
	ok, err := n.RunCommand("go", nil)
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestMapNodeRunCommandFailure(t *testing.T) {
	n := NewMapNode(nil, map[string]func(args map[string]any) error{
		"go": func(args map[string]any) error { return errors.New("boom") },
	})
	ok, err := n.RunCommand("go", nil)
	assert.True(t, ok)
	assert.Error(t, err)
}
