package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// WriteRun inserts a run header. Writing the same run id twice is an error.
func (s *Store) WriteRun(ctx context.Context, r Run) error {
	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, label, channels, debounce_cycles, trip_threshold, engine_version, record_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Label,
		string(channels),
		r.DebounceCycles,
		int(r.TripThreshold),
		r.EngineVersion,
		r.RecordVersion,
	)
	if err != nil {
		return fmt.Errorf("write run: %w", err)
	}
	return nil
}

// WriteCycle records one processed event and, if the event produced an
// evaluation, that evaluation. Both rows are written in one transaction.
func (s *Store) WriteCycle(ctx context.Context, in Input, ev *Evaluation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write cycle: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inputs (run_id, cycle, kind, channel, value, flag, min, max)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, in.RunID, in.Cycle, in.Kind, in.Channel, int(in.Value), boolInt(in.Flag), int(in.Min), int(in.Max))
	if err != nil {
		return fmt.Errorf("write cycle: input: %w", err)
	}

	if ev != nil {
		violations, err := json.Marshal(ev.Violations)
		if err != nil {
			return fmt.Errorf("write cycle: %w", err)
		}
		outputs, err := json.Marshal(ev.Outputs)
		if err != nil {
			return fmt.Errorf("write cycle: %w", err)
		}
		o := ev.Outputs
		_, err = tx.ExecContext(ctx, `
			INSERT INTO evaluations
			(run_id, cycle, cause, captured, sample_channel, sample_value, sample_seq,
			 state, power_enable, fault, safe, violation_valid, violation_code, fault_mask,
			 debounce, armed, rejected, violations, outputs, digest)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.RunID, ev.Cycle, ev.Cause, boolInt(ev.Captured),
			ev.Sample.Channel, int(ev.Sample.Value), int64(ev.Sample.Seq),
			int(o.State), boolInt(o.PowerEnable), boolInt(o.Fault), boolInt(o.Safe),
			boolInt(o.ViolationValid), int64(o.ViolationCode), int(o.FaultMask),
			o.Debounce, boolInt(o.Armed), boolInt(ev.Rejected),
			string(violations), string(outputs), ev.Digest,
		)
		if err != nil {
			return fmt.Errorf("write cycle: evaluation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write cycle: commit: %w", err)
	}
	return nil
}

// FinishRun stores the final trace digest and marks the run finished.
func (s *Store) FinishRun(ctx context.Context, runID, digest string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET digest = ?, finished = 1 WHERE id = ?`, digest, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: %w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
