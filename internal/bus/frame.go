// Package bus carries governor output downstream as versioned frames.
//
// Three frame types are emitted. A sample frame goes out for every accepted
// capture. A status frame goes out for every evaluation cycle. A fault frame
// goes out on entry into SAFE. Frames are JSON encoded; the Version field
// lets consumers reject frames they do not understand.
//
// Sealed frames carry a trace id, the trace id of the frame published before
// them, and a digest over every other field, so a consumer can rebuild the
// causal chain and detect corruption.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apeichen/fpga-aichip/internal/xr"
)

// Module identifies the producer of a frame.
type Module uint16

const (
	ModuleXENOS Module = 0x0002
	ModuleXSM   Module = 0x0010
)

// FrameType distinguishes frame payloads.
type FrameType string

const (
	FrameSample FrameType = "sample"
	FrameStatus FrameType = "status"
	FrameFault  FrameType = "fault"
)

// Frame is one unit on the bus.
type Frame struct {
	Version        uint16    `json:"version"`
	Module         Module    `json:"module"`
	Type           FrameType `json:"type"`
	RunID          string    `json:"run_id"`
	Cycle          int64     `json:"cycle"`
	Seq            uint32    `json:"seq"`
	Channel        int       `json:"channel"`
	Value          uint16    `json:"value"`
	Valid          bool      `json:"valid"`
	State          xr.State  `json:"state"`
	Fault          bool      `json:"fault"`
	Safe           bool      `json:"safe"`
	ViolationValid bool      `json:"violation_valid"`
	ViolationCode  uint32    `json:"violation_code"`
	TraceID        string    `json:"trace_id,omitempty"`
	ParentID       string    `json:"parent_id,omitempty"`
	Hash           string    `json:"hash,omitempty"`
}

// ErrFrameHash is returned when a sealed frame does not match its digest.
var ErrFrameHash = errors.New("frame hash mismatch")

func (f Frame) canonical() map[string]any {
	return map[string]any{
		"version":         f.Version,
		"module":          uint16(f.Module),
		"type":            string(f.Type),
		"run_id":          f.RunID,
		"cycle":           f.Cycle,
		"seq":             f.Seq,
		"channel":         int64(f.Channel),
		"value":           f.Value,
		"valid":           f.Valid,
		"state":           uint8(f.State),
		"fault":           f.Fault,
		"safe":            f.Safe,
		"violation_valid": f.ViolationValid,
		"violation_code":  f.ViolationCode,
		"trace_id":        f.TraceID,
		"parent_id":       f.ParentID,
	}
}

// Seal assigns the frame's trace id, links it to parent (empty for the first
// frame of a run) and computes its digest.
func Seal(f Frame, parent string) (Frame, error) {
	f.TraceID = xr.FrameTraceID(f.RunID, f.Cycle, string(f.Type))
	f.ParentID = parent
	h, err := xr.FrameDigest(f.canonical())
	if err != nil {
		return Frame{}, fmt.Errorf("seal frame: %w", err)
	}
	f.Hash = h
	return f, nil
}

// Verify recomputes the digest of a sealed frame.
func Verify(f Frame) error {
	h, err := xr.FrameDigest(f.canonical())
	if err != nil {
		return fmt.Errorf("verify frame: %w", err)
	}
	if h != f.Hash {
		return fmt.Errorf("%w: cycle %d %s", ErrFrameHash, f.Cycle, f.Type)
	}
	return nil
}

// SampleFrame builds the capture-side frame for s.
func SampleFrame(runID string, cycle int64, s xr.Sample) Frame {
	return Frame{
		Version: xr.FrameVersion,
		Module:  ModuleXSM,
		Type:    FrameSample,
		RunID:   runID,
		Cycle:   cycle,
		Seq:     s.Seq,
		Channel: s.Channel,
		Value:   s.Value,
		Valid:   s.Valid,
	}
}

// StatusFrame builds the governor-side frame for one evaluation.
func StatusFrame(runID string, cycle int64, out xr.Outputs) Frame {
	return Frame{
		Version:        xr.FrameVersion,
		Module:         ModuleXENOS,
		Type:           FrameStatus,
		RunID:          runID,
		Cycle:          cycle,
		Seq:            out.LastSample.Seq,
		Channel:        out.LastSample.Channel,
		Value:          out.LastSample.Value,
		Valid:          out.SampleValid,
		State:          out.State,
		Fault:          out.Fault,
		Safe:           out.Safe,
		ViolationValid: out.ViolationValid,
		ViolationCode:  uint32(out.ViolationCode),
	}
}

// FaultFrame is a status frame marked as a trip notification. Channel
// carries the offending channel rather than the last sampled one.
func FaultFrame(runID string, cycle int64, out xr.Outputs) Frame {
	f := StatusFrame(runID, cycle, out)
	f.Type = FrameFault
	f.Channel = out.ViolationCode.Channel()
	return f
}

// Encode marshals a frame to JSON.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses a JSON frame and checks its version, and its digest when
// the frame is sealed.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Version != xr.FrameVersion {
		return Frame{}, fmt.Errorf("decode frame: unsupported version 0x%04X", f.Version)
	}
	if f.Hash != "" {
		if err := Verify(f); err != nil {
			return Frame{}, fmt.Errorf("decode frame: %w", err)
		}
	}
	return f, nil
}
