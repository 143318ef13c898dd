package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
	"github.com/roach88/fxq/internal/quantize"
)

// WriteUnit inserts a compilation unit.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
//
// Note: The parent referenced by ParentID must already exist (foreign key constraint).
func (s *Store) WriteUnit(ctx context.Context, u quantize.Unit) error {
	if u.ID == "" {
		return fmt.Errorf("write unit: empty id")
	}
	var parent sql.NullString
	if u.ParentID != "" {
		parent = sql.NullString{String: u.ParentID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO units
		(id, parent_id, path, root_type, standalone, depth, seq)
		SELECT ?, ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1 FROM units
		WHERE true
		ON CONFLICT(id) DO NOTHING
	`,
		u.ID,
		parent,
		u.Path,
		string(u.RootType),
		u.Standalone,
		u.Depth,
	)
	if err != nil {
		return fmt.Errorf("write unit: %w", err)
	}
	return nil
}

// WriteStage records the graph of a unit at its current stage.
// Uses ON CONFLICT(unit_id, stage) DO NOTHING: the first record of a stage wins.
//
// The traced stage also stores the unit's scope map, which later stages
// share and never change.
func (s *Store) WriteStage(ctx context.Context, unitID string, gm *fx.GraphModule) error {
	if gm == nil || gm.Graph == nil {
		return fmt.Errorf("write stage: nil graph module")
	}
	graphJSON, err := ir.MarshalGraph(gm.Graph)
	if err != nil {
		return fmt.Errorf("write stage: %w", err)
	}
	fp, err := ir.Fingerprint(gm.Graph)
	if err != nil {
		return fmt.Errorf("write stage: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write stage: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stages
		(unit_id, stage, node_count, fingerprint, graph, seq)
		SELECT ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1 FROM stages
		WHERE true
		ON CONFLICT(unit_id, stage) DO NOTHING
	`,
		unitID,
		gm.Stage().String(),
		gm.Graph.Len(),
		fp,
		string(graphJSON),
	)
	if err != nil {
		return fmt.Errorf("write stage: %w", err)
	}

	if gm.Stage() == fx.StageTraced {
		if err := writeScopes(ctx, tx, unitID, gm.Scopes); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write stage: commit: %w", err)
	}
	return nil
}

func writeScopes(ctx context.Context, tx *sql.Tx, unitID string, scopes *ir.ScopeMap) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO node_scopes
		(unit_id, node, module_path, module_type, ord)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(unit_id, node) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write scopes: %w", err)
	}
	defer stmt.Close()

	for i, name := range scopes.Names() {
		scope, _ := scopes.Lookup(name)
		if _, err := stmt.ExecContext(ctx, unitID, name, scope.Path, string(scope.Type), i); err != nil {
			return fmt.Errorf("write scopes: node %q: %w", name, err)
		}
	}
	return nil
}
