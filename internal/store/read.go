package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/fxq/internal/fx"
	"github.com/roach88/fxq/internal/ir"
)

// UnitRecord is a stored compilation unit.
type UnitRecord struct {
	ID         string
	ParentID   string
	Path       string
	RootType   ir.ModuleType
	Standalone bool
	Depth      int
	Seq        int64
}

// StageRecord is a stored stage transition.
type StageRecord struct {
	UnitID      string
	Stage       fx.Stage
	NodeCount   int
	Fingerprint string

	// Graph is the canonical JSON of the graph at this stage.
	Graph string
	Seq   int64
}

// ReadUnits returns every unit in the log, ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the log is empty.
func (s *Store) ReadUnits(ctx context.Context) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, path, root_type, standalone, depth, seq
		FROM units
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	return scanUnits(rows)
}

// ReadRuns returns the top-level units, one per pipeline run.
func (s *Store) ReadRuns(ctx context.Context) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, path, root_type, standalone, depth, seq
		FROM units
		WHERE parent_id IS NULL
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return scanUnits(rows)
}

// ReadUnitTree returns rootID and every unit nested below it, ordered by
// seq ASC, id ASC COLLATE BINARY.
func (s *Store) ReadUnitTree(ctx context.Context, rootID string) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM units WHERE id = ?
			UNION ALL
			SELECT u.id FROM units u JOIN tree t ON u.parent_id = t.id
		)
		SELECT u.id, u.parent_id, u.path, u.root_type, u.standalone, u.depth, u.seq
		FROM units u
		JOIN tree t ON u.id = t.id
		ORDER BY u.seq ASC, u.id COLLATE BINARY ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("query unit tree: %w", err)
	}
	return scanUnits(rows)
}

func scanUnits(rows *sql.Rows) ([]UnitRecord, error) {
	defer rows.Close()

	units := []UnitRecord{}
	for rows.Next() {
		var (
			u        UnitRecord
			parent   sql.NullString
			rootType string
		)
		if err := rows.Scan(&u.ID, &parent, &u.Path, &rootType, &u.Standalone, &u.Depth, &u.Seq); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		u.ParentID = parent.String
		u.RootType = ir.ModuleType(rootType)
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return units, nil
}

// ReadStages returns the stages recorded for a unit in pipeline order.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) ReadStages(ctx context.Context, unitID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unit_id, stage, node_count, fingerprint, graph, seq
		FROM stages
		WHERE unit_id = ?
		ORDER BY seq ASC, stage COLLATE BINARY ASC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	stages := []StageRecord{}
	for rows.Next() {
		var (
			r     StageRecord
			stage string
		)
		if err := rows.Scan(&r.UnitID, &stage, &r.NodeCount, &r.Fingerprint, &r.Graph, &r.Seq); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		if r.Stage, err = fx.ParseStage(stage); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return stages, nil
}

// ReadScopes rebuilds the frozen scope map recorded when a unit was traced.
func (s *Store) ReadScopes(ctx context.Context, unitID string) (*ir.ScopeMap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node, module_path, module_type
		FROM node_scopes
		WHERE unit_id = ?
		ORDER BY ord ASC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query scopes: %w", err)
	}
	defer rows.Close()

	scopes := ir.NewScopeMap()
	for rows.Next() {
		var node, path, typ string
		if err := rows.Scan(&node, &path, &typ); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		if err := scopes.Record(node, ir.Scope{Path: path, Type: ir.ModuleType(typ)}); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}
	scopes.Freeze()
	return scopes, nil
}
