package metrics

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGet_Singleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestTransitionsCounter(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.Transitions.WithLabelValues("settle", "ok"))
	m.Transitions.WithLabelValues("settle", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(m.Transitions.WithLabelValues("settle", "ok")))
}

func TestFloat(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.InDelta(t, 1.5, Float(v, 18), 1e-12)
	assert.Equal(t, float64(0), Float(nil, 18))
	assert.Equal(t, float64(42), Float(big.NewInt(42), 0))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("x")))
}
