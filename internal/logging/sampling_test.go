package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/collectiond/internal/config"
)

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    1,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for i := 0; i < 5; i++ {
		logger.Info("repeated")
		logger.Error("failure")
	}

	assert.Equal(t, 1, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 5, observed.FilterMessage("failure").Len())
}

func TestSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	assert.Same(t, core, newSampledCore(core, SamplingConfig{}))
}
