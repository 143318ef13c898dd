package passes

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/fxq/internal/config"
	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/nn"
)

// PatternFuser fuses chains of leaf module calls that match a backend
// fusion pattern. A chain qualifies when every link but the last has
// exactly one user, the next call in the chain, which takes it as its only
// argument. The first node of a chain survives under its original name and
// now calls the fused module; the rest are erased.
type PatternFuser struct {
	logger *slog.Logger
}

// NewPatternFuser creates a PatternFuser.
func NewPatternFuser(logger *slog.Logger) *PatternFuser {
	if logger == nil {
		logger = slog.Default()
	}
	return &PatternFuser{logger: logger}
}

func (*PatternFuser) Name() string { return "pattern" }

// Fuse returns a fused copy of req.Module. Longer patterns are tried first.
func (f *PatternFuser) Fuse(req FuseRequest) (*fx.GraphModule, error) {
	if req.Module == nil {
		return nil, fmt.Errorf("fuse: nil graph module")
	}
	backend := req.Backend
	if backend == nil {
		backend = config.DefaultBackend()
	}
	gm := req.Module.Clone()

	patterns := append([][]ir.ModuleType(nil), backend.FusionPatterns...)
	sort.SliceStable(patterns, func(i, j int) bool { return len(patterns[i]) > len(patterns[j]) })

	fused := 0
	for _, pattern := range patterns {
		if _, ok := backend.FusedType(pattern); !ok {
			continue
		}
		for _, n := range gm.Graph.Nodes() {
			if cur, ok := gm.Graph.Node(n.Name); !ok || cur != n {
				continue
			}
			chain := matchChain(gm, n, pattern)
			if chain == nil {
				continue
			}
			if err := fuseChain(gm, chain); err != nil {
				return nil, err
			}
			fused++
		}
	}
	f.logger.Debug("fused module chains", "count", fused, "backend", backend.Name, "qat", req.IsQAT)
	return gm, nil
}

// matchChain returns the nodes matching pattern starting at start, or nil.
func matchChain(gm *fx.GraphModule, start *ir.Node, pattern []ir.ModuleType) []*ir.Node {
	chain := make([]*ir.Node, 0, len(pattern))
	cur := start
	for i, typ := range pattern {
		if cur.Kind != ir.KindCallModule || sharedTarget(gm, cur) {
			return nil
		}
		m, ok := gm.Module(cur.Target)
		if !ok || m.Type() != typ {
			return nil
		}
		chain = append(chain, cur)
		if i == len(pattern)-1 {
			break
		}
		users := gm.Graph.Users(cur)
		if len(users) != 1 {
			return nil
		}
		next := users[0]
		if len(next.Args) != 1 || len(next.Kwargs) > 0 || next.Args[0] != ir.Arg(cur) {
			return nil
		}
		cur = next
	}
	return chain
}

// sharedTarget reports whether another node calls the same module as n.
func sharedTarget(gm *fx.GraphModule, n *ir.Node) bool {
	for _, other := range gm.Graph.Nodes() {
		if other != n && other.Kind == ir.KindCallModule && other.Target == n.Target {
			return true
		}
	}
	return false
}

func fuseChain(gm *fx.GraphModule, chain []*ir.Node) error {
	parts := make([]nn.Module, len(chain))
	from := make(ir.IRArray, len(chain))
	for i, n := range chain {
		parts[i], _ = gm.Module(n.Target)
		from[i] = ir.IRString(n.Target)
	}
	composite, err := nn.Fuse(parts...)
	if err != nil {
		return fmt.Errorf("fuse %v: %w", from, err)
	}

	first, last := chain[0], chain[len(chain)-1]
	if err := gm.Graph.ReplaceAllUses(last, first); err != nil {
		return err
	}
	first.TypeHint = last.TypeHint
	for i := len(chain) - 1; i > 0; i-- {
		if err := gm.Graph.Erase(chain[i]); err != nil {
			return err
		}
		gm.DeleteModule(chain[i].Target)
	}
	gm.SetModule(first.Target, composite)
	first.SetMeta(MetaFusedFrom, from)
	return nil
}

var _ Fuser = (*PatternFuser)(nil)
