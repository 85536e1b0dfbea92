package xr

// Version constants for recorded runs and bus frames.
const (
	// EngineVersion is the capture/governor core version.
	EngineVersion = "0.3.0"

	// RecordVersion is the recording schema version written with each run.
	RecordVersion = "1"

	// FrameVersion is the frame bus protocol version (v2.0).
	FrameVersion uint16 = 0x0200
)
