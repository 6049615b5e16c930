package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	res := newResource(cfg)

	got := map[string]string{}
	for _, attr := range res.Attributes() {
		got[string(attr.Key)] = attr.Value.AsString()
	}
	assert.Equal(t, "collectiond", got["service.name"])
	assert.Equal(t, "1.0.0", got["service.version"])
}

func TestOptions(t *testing.T) {
	var o options
	assert.Nil(t, o.spanExporter)
	assert.Nil(t, o.metricExporter)

	WithTraceExporter(nil)(&o)
	WithMetricExporter(nil)(&o)
	assert.Nil(t, o.spanExporter)
	assert.Nil(t, o.metricExporter)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4317", stripScheme("otel:4317"))
}
