package store

import (
	"context"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/quantize"
)

// Recorder adapts the store to quantize.Recorder. Every write uses ctx.
func (s *Store) Recorder(ctx context.Context) quantize.Recorder {
	return &recorder{store: s, ctx: ctx}
}

type recorder struct {
	store *Store
	ctx   context.Context
}

func (r *recorder) BeginUnit(u quantize.Unit) error {
	return r.store.WriteUnit(r.ctx, u)
}

func (r *recorder) RecordStage(unitID string, gm *fx.GraphModule) error {
	return r.store.WriteStage(r.ctx, unitID, gm)
}
