package xr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for digests. The version suffix allows the encoding to
// change without colliding with older digests.
const (
	DomainEvaluation = "xrcore/evaluation/v1"
	DomainTrace      = "xrcore/trace/v1"
	DomainFrame      = "xrcore/frame/v1"
	DomainFrameID    = "xrcore/frame-id/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EvaluationDigest hashes one cycle's outputs together with its cycle number.
func EvaluationDigest(cycle int64, out Outputs) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"cycle":   cycle,
		"outputs": out.Canonical(),
	})
	if err != nil {
		return "", fmt.Errorf("EvaluationDigest: %w", err)
	}
	return hashWithDomain(DomainEvaluation, canonical), nil
}

// TraceDigest folds an ordered list of evaluation digests into one digest
// for the whole run.
func TraceDigest(digests []string) (string, error) {
	arr := make([]any, len(digests))
	for i, d := range digests {
		arr[i] = d
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("TraceDigest: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}

// FrameDigest hashes a frame's canonical fields. The caller leaves the digest
// field itself out of fields.
func FrameDigest(fields map[string]any) (string, error) {
	canonical, err := MarshalCanonical(fields)
	if err != nil {
		return "", fmt.Errorf("FrameDigest: %w", err)
	}
	return hashWithDomain(DomainFrame, canonical), nil
}

// FrameTraceID derives a 128-bit trace id (32 hex chars) for the frame of
// the given type emitted in cycle of run. Replays reproduce the same ids.
func FrameTraceID(runID string, cycle int64, frameType string) string {
	data := fmt.Appendf(nil, "%s\x00%d\x00%s", runID, cycle, frameType)
	return hashWithDomain(DomainFrameID, data)[:32]
}

// MustEvaluationDigest panics on error. Outputs always encode, so this is
// safe for engine use.
func MustEvaluationDigest(cycle int64, out Outputs) string {
	d, err := EvaluationDigest(cycle, out)
	if err != nil {
		panic(err)
	}
	return d
}

// MustTraceDigest is TraceDigest for callers holding well-formed digests.
func MustTraceDigest(digests []string) string {
	d, err := TraceDigest(digests)
	if err != nil {
		panic(err)
	}
	return d
}
