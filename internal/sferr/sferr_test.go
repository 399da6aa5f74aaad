package sferr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindConfiguration: "configuration",
		KindState:         "state",
		KindResource:       "resource",
		KindEngineNonFatal: "engine_nonfatal",
		KindEngineFatal:    "engine_fatal",
		KindTimeout:        "timeout",
		KindProtocol:       "protocol",
		Kind(99):           "unknown",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}

func TestKindfClassifiesWrappedSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("x: %w", ErrConfiguration), KindConfiguration},
		{fmt.Errorf("x: %w", ErrState), KindState},
		{fmt.Errorf("x: %w", ErrEngineFatal), KindEngineFatal},
		{fmt.Errorf("x: %w", ErrEngineNonFatal), KindEngineNonFatal},
		{fmt.Errorf("x: %w", ErrTimeout), KindTimeout},
		{fmt.Errorf("x: %w", ErrProtocol), KindProtocol},
		{fmt.Errorf("x: %w", ErrResource), KindResource},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Kindf(c.err))
	}
}

func TestKindfDefaultsToResource(t *testing.T) {
	assert.Equal(t, KindResource, Kindf(fmt.Errorf("unrelated failure")))
}

func TestKindfNamedResourceErrorFallsBackToResource(t *testing.T) {
	// ErrEmptyPipeline and ErrRotatorStuck are named errors that don't wrap
	// any of the seven sentinels, so they classify via the default branch.
	assert.Equal(t, KindResource, Kindf(fmt.Errorf("reset_pipeline: %w", ErrEmptyPipeline)))
	assert.Equal(t, KindResource, Kindf(fmt.Errorf("finish_file: %w", ErrRotatorStuck)))
}

func TestIsErrorAndIsFatal(t *testing.T) {
	assert.False(t, IsError(CodeOK))
	assert.True(t, IsError(CodeInvalidMethod))
	assert.False(t, IsFatal(CodeInvalidMethod))
	assert.True(t, IsFatal(200))
}
