package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLinesReadIncrements(t *testing.T) {
	LinesRead.WithLabelValues("test-source").Inc()
	LinesRead.WithLabelValues("test-source").Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(LinesRead.WithLabelValues("test-source")))
}

func TestParseErrorsTrackedPerParser(t *testing.T) {
	ParseErrorsTotal.WithLabelValues("json-test").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(ParseErrorsTotal.WithLabelValues("json-test")))
}
