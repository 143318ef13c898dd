package passes

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/qconfig"
)

func TestObserver_QParams(t *testing.T) {
	tests := []struct {
		name   string
		dtype  qconfig.DType
		values []float64
		scale  float64
		zp     int64
	}{
		{"unobserved", qconfig.QUInt8, nil, 1, 0},
		{"quint8 straddling zero", qconfig.QUInt8, []float64{-1, 2}, 3.0 / 255, 85},
		{"qint8 positive only", qconfig.QInt8, []float64{0.5, 1.27}, 1.27 / 255, -128},
		{"nan ignored", qconfig.QUInt8, []float64{math.NaN(), 0, 2.55}, 0.01, 0},
		{"float dtype", qconfig.Float32, []float64{1, 2}, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := NewObserver(tt.dtype)
			obs.Observe(tt.values...)
			scale, zp := obs.QParams()
			assert.InDelta(t, tt.scale, scale, 1e-12)
			assert.Equal(t, tt.zp, zp)
		})
	}
}

func TestObserver_IsLeafNamespace(t *testing.T) {
	obs := NewObserver(qconfig.QUInt8)
	assert.True(t, nn.IsPrimitiveNamespace(obs.Namespace()))
	assert.Equal(t, TypeMinMaxObserver, obs.Type())
}

func TestNumeric(t *testing.T) {
	assert.Equal(t, []float64{1}, numeric(1))
	assert.Equal(t, []float64{1.5, 2}, numeric([]any{1.5, []any{2}}))
	assert.Nil(t, numeric("x"))
}
