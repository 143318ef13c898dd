package passes

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
	"github.com/roach88/fxq/internal/tracer"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func trace(t *testing.T, root nn.Module, opts tracer.Options) *fx.GraphModule {
	t.Helper()
	opts.Logger = quiet()
	res, err := tracer.New(opts).Trace(root, nil)
	require.NoError(t, err)
	return fx.New(root.Type(), res.Graph, res.Scopes, res.Modules)
}

// chainModel calls its children in registration order.
func chainModel(children ...nn.Child) *nn.Custom {
	m := nn.NewCustom("test.Chain", func(self *nn.Custom, b nn.Builder, args ...ir.Arg) (ir.Arg, error) {
		x := args[0]
		for _, c := range self.Children() {
			var err error
			if x, err = b.CallModule(c.Module, x); err != nil {
				return nil, err
			}
		}
		return x, nil
	})
	for _, c := range children {
		m.With(c.Name, c.Module)
	}
	return m
}

func nodeNames(gm *fx.GraphModule) []string {
	var names []string
	for _, n := range gm.Graph.Nodes() {
		names = append(names, n.Name)
	}
	return names
}

func mustNode(t *testing.T, gm *fx.GraphModule, name string) *ir.Node {
	t.Helper()
	n, ok := gm.Graph.Node(name)
	require.True(t, ok, "no node %q in\n%s", name, gm)
	return n
}

func moduleType(t *testing.T, gm *fx.GraphModule, path string) ir.ModuleType {
	t.Helper()
	m, ok := gm.Module(path)
	require.True(t, ok, "no module %q", path)
	return m.Type()
}
