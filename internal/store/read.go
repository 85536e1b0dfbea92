package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apeichen/fpga-aichip/internal/xr"
)

// ErrRunNotFound is returned when a run id has no header row.
var ErrRunNotFound = errors.New("run not found")

// ReadRun returns the run header.
func (s *Store) ReadRun(ctx context.Context, runID string) (Run, error) {
	var (
		r        Run
		channels string
		thr      int
		finished int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, label, channels, debounce_cycles, trip_threshold, engine_version, record_version, digest, finished
		FROM runs WHERE id = ?
	`, runID).Scan(&r.ID, &r.Label, &channels, &r.DebounceCycles, &thr, &r.EngineVersion, &r.RecordVersion, &r.Digest, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run: %w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run: %w", err)
	}
	if err := json.Unmarshal([]byte(channels), &r.Channels); err != nil {
		return Run{}, fmt.Errorf("read run: channels: %w", err)
	}
	r.TripThreshold = uint8(thr)
	r.Finished = finished != 0
	return r, nil
}

// ReadInputs returns a run's inputs ordered by cycle.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadInputs(ctx context.Context, runID string) ([]Input, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, cycle, kind, channel, value, flag, min, max
		FROM inputs
		WHERE run_id = ?
		ORDER BY cycle ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query inputs: %w", err)
	}
	defer rows.Close()

	inputs := []Input{}
	for rows.Next() {
		var (
			in            Input
			value, lo, hi int
			flag          int
		)
		if err := rows.Scan(&in.RunID, &in.Cycle, &in.Kind, &in.Channel, &value, &flag, &lo, &hi); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		in.Value = uint16(value)
		in.Min = uint16(lo)
		in.Max = uint16(hi)
		in.Flag = flag != 0
		inputs = append(inputs, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inputs: %w", err)
	}
	return inputs, nil
}

// ReadEvaluations returns a run's evaluations ordered by cycle.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadEvaluations(ctx context.Context, runID string) ([]Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, cycle, cause, captured, rejected, violations, outputs, digest
		FROM evaluations
		WHERE run_id = ?
		ORDER BY cycle ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	evals := []Evaluation{}
	for rows.Next() {
		var (
			ev                  Evaluation
			captured, rejected  int
			violations, outputs string
		)
		if err := rows.Scan(&ev.RunID, &ev.Cycle, &ev.Cause, &captured, &rejected, &violations, &outputs, &ev.Digest); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		if err := json.Unmarshal([]byte(violations), &ev.Violations); err != nil {
			return nil, fmt.Errorf("scan evaluation: violations: %w", err)
		}
		if err := json.Unmarshal([]byte(outputs), &ev.Outputs); err != nil {
			return nil, fmt.Errorf("scan evaluation: outputs: %w", err)
		}
		ev.Captured = captured != 0
		ev.Rejected = rejected != 0
		if ev.Captured {
			ev.Sample = ev.Outputs.LastSample
		}
		evals = append(evals, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return evals, nil
}

// ListRuns returns a summary of every run, ordered by id.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.label, r.digest, r.finished,
		       (SELECT COUNT(*) FROM inputs i WHERE i.run_id = r.id),
		       (SELECT COUNT(*) FROM evaluations e WHERE e.run_id = r.id),
		       COALESCE((SELECT e.state FROM evaluations e WHERE e.run_id = r.id ORDER BY e.cycle DESC LIMIT 1), ?)
		FROM runs r
		ORDER BY r.id COLLATE BINARY ASC
	`, int(xr.StateIdle))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			rs       RunSummary
			finished int
			state    int
		)
		if err := rows.Scan(&rs.ID, &rs.Label, &rs.Digest, &finished, &rs.Inputs, &rs.Evaluations, &state); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.Finished = finished != 0
		rs.FinalState = xr.State(state)
		runs = append(runs, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// CountByState returns how many evaluations of a run ended in each state.
func (s *Store) CountByState(ctx context.Context, runID string) (map[xr.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM evaluations WHERE run_id = ? GROUP BY state ORDER BY state
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	out := map[xr.State]int{}
	for rows.Next() {
		var state, n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count by state: %w", err)
		}
		out[xr.State(state)] = n
	}
	return out, rows.Err()
}
