package passes

import (
	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/qconfig"
)

// FuseRequest is the input of a Fuser.
type FuseRequest struct {
	Module  *fx.GraphModule
	IsQAT   bool
	Config  *config.FuseConfig
	Backend *config.BackendConfig
}

// PrepareRequest is the input of a Preparer.
type PrepareRequest struct {
	Module        *fx.GraphModule
	Policy        qconfig.Resolver
	IsQAT         bool
	Scopes        *ir.ScopeMap
	ExampleInputs []any
	Config        *config.PrepareConfig
	Equalization  qconfig.Resolver
	Backend       *config.BackendConfig
	IsStandalone  bool
}

// ConvertRequest is the input of a Converter.
type ConvertRequest struct {
	Module              *fx.GraphModule
	IsReference         bool
	Config              *config.ConvertConfig
	IsStandalone        bool
	RemoveQuantMetadata bool
	Policy              qconfig.Resolver
	Backend             *config.BackendConfig
}

// Fuser merges operator sequences into fused composites.
// It may return the module it was given or a new one.
type Fuser interface {
	Name() string
	Fuse(req FuseRequest) (*fx.GraphModule, error)
}

// Preparer inserts observation points according to policy.
// It may return the module it was given or a new one.
type Preparer interface {
	Name() string
	Prepare(req PrepareRequest) (*fx.GraphModule, error)
}

// Converter lowers an observed graph to quantized operations.
// It may return the module it was given or a new one.
type Converter interface {
	Name() string
	Convert(req ConvertRequest) (*fx.GraphModule, error)
}

// Node metadata keys written by the reference passes.
const (
	MetaFusedFrom       = "fused_from"
	MetaPolicy          = "qpolicy"
	MetaDType           = "qdtype"
	MetaDynamic         = "dynamic"
	MetaEqualization    = "equalization"
	MetaStandalone      = "standalone"
	MetaInputQuantized  = "input_quantized_idxs"
	MetaOutputQuantized = "output_quantized_idxs"
	MetaQuantizedInput  = "quantized_input"
)

// quantMetaKeys are removed by RemoveQuantMetadata.
var quantMetaKeys = []string{MetaPolicy, MetaDType, MetaDynamic, MetaEqualization}

// RemoveQuantMetadata strips policy annotations from every node.
func RemoveQuantMetadata(g *ir.Graph) {
	for _, n := range g.Nodes() {
		for _, k := range quantMetaKeys {
			delete(n.Meta, k)
		}
		if len(n.Meta) == 0 {
			n.Meta = nil
		}
	}
}

func indexArray(idx []int) ir.IRArray {
	out := make(ir.IRArray, len(idx))
	for i, v := range idx {
		out[i] = ir.IRInt(v)
	}
	return out
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// standaloneAt returns the compiled standalone unit a call_module node invokes.
func standaloneAt(gm *fx.GraphModule, n *ir.Node) (*fx.GraphModule, bool) {
	if n.Kind != ir.KindCallModule {
		return nil, false
	}
	m, ok := gm.Module(n.Target)
	if !ok {
		return nil, false
	}
	unit, ok := m.(*fx.GraphModule)
	if !ok || !unit.Standalone {
		return nil, false
	}
	return unit, true
}
