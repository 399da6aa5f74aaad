package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sandfly-daq/sandfly/internal/sferr"
)

func TestClassifyRunErrNilIsClean(t *testing.T) {
	assert.Equal(t, OutcomeClean, ClassifyRunErr(nil))
}

func TestClassifyRunErrNonFatal(t *testing.T) {
	err := NonFatal(errors.New("node dropped a record"))
	assert.Equal(t, OutcomeNonFatal, ClassifyRunErr(err))
}

func TestClassifyRunErrFatal(t *testing.T) {
	err := Fatal(errors.New("node crashed"))
	assert.Equal(t, OutcomeFatal, ClassifyRunErr(err))
}

func TestClassifyRunErrUnknownDefaultsFatal(t *testing.T) {
	assert.Equal(t, OutcomeFatal, ClassifyRunErr(errors.New("unclassified")))
}

func TestNonFatalAndFatalWrapSentinels(t *testing.T) {
	assert.ErrorIs(t, NonFatal(errors.New("x")), sferr.ErrEngineNonFatal)
	assert.ErrorIs(t, Fatal(errors.New("x")), sferr.ErrEngineFatal)
}

func TestRunOutcomeString(t *testing.T) {
	assert.Equal(t, "clean", OutcomeClean.String())
	assert.Equal(t, "non_fatal", OutcomeNonFatal.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
	assert.Equal(t, "unknown", RunOutcome(99).String())
}
