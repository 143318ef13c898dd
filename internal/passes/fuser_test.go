package passes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/tracer"
)

func TestPatternFuser_FusesLinearReLU(t *testing.T) {
	gm := trace(t, chainModel(
		nn.Child{Name: "fc", Module: nn.NewLinear(4, 4)},
		nn.Child{Name: "relu", Module: nn.NewReLU()},
	), tracer.Options{})
	before := ir.MustFingerprint(gm.Graph)

	out, err := NewPatternFuser(quiet()).Fuse(FuseRequest{Module: gm})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "fc", "output"}, nodeNames(out))
	assert.Equal(t, nn.TypeLinearReLU, moduleType(t, out, "fc"))
	_, ok := out.Module("relu")
	assert.False(t, ok, "fused part left in the module table")
	assert.Equal(t, ir.IRArray{ir.IRString("fc"), ir.IRString("relu")}, mustNode(t, out, "fc").Meta[MetaFusedFrom])
	assert.Equal(t, ir.Arg(mustNode(t, out, "fc")), out.Graph.Output().Args[0])

	assert.Equal(t, before, ir.MustFingerprint(gm.Graph), "input graph modified")
}

func TestPatternFuser_LongestPatternWins(t *testing.T) {
	gm := trace(t, chainModel(
		nn.Child{Name: "conv", Module: nn.NewConv2d(3, 8, 3)},
		nn.Child{Name: "bn", Module: nn.NewBatchNorm2d(8)},
		nn.Child{Name: "relu", Module: nn.NewReLU()},
	), tracer.Options{})

	out, err := NewPatternFuser(quiet()).Fuse(FuseRequest{Module: gm})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "conv", "output"}, nodeNames(out))
	assert.Equal(t, nn.TypeConvBnReLU2d, moduleType(t, out, "conv"))
}

func TestPatternFuser_SkipsSharedIntermediate(t *testing.T) {
	m := nn.NewCustom("test.Residual", func(self *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		h, err := self.Call(b, "fc", args[0])
		if err != nil {
			return nil, err
		}
		r, err := self.Call(b, "relu", h)
		if err != nil {
			return nil, err
		}
		return b.CallFunction("add", []ir.Arg{h, r}, nil)
	}).With("fc", nn.NewLinear(4, 4)).With("relu", nn.NewReLU())
	gm := trace(t, m, tracer.Options{})

	out, err := NewPatternFuser(quiet()).Fuse(FuseRequest{Module: gm})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "fc", "relu", "add", "output"}, nodeNames(out))
	assert.Equal(t, nn.TypeLinear, moduleType(t, out, "fc"))
}

func TestPatternFuser_RespectsBackendPatterns(t *testing.T) {
	gm := trace(t, chainModel(
		nn.Child{Name: "fc", Module: nn.NewLinear(4, 4)},
		nn.Child{Name: "relu", Module: nn.NewReLU()},
	), tracer.Options{})
	backend := config.DefaultBackend().WithFusionPatterns(
		[]ir.ModuleType{nn.TypeConv2d, nn.TypeReLU},
	)

	out, err := NewPatternFuser(quiet()).Fuse(FuseRequest{Module: gm, Backend: backend})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "fc", "relu", "output"}, nodeNames(out))
}

func TestPatternFuser_NilModule(t *testing.T) {
	_, err := NewPatternFuser(quiet()).Fuse(FuseRequest{})
	assert.Error(t, err)
}
