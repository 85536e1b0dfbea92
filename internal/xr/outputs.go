package xr

// Outputs is the externally observable output set, refreshed on every
// evaluation.
type Outputs struct {
	State          State         `json:"state"`
	PowerEnable    bool          `json:"power_enable"`
	Fault          bool          `json:"fault"`
	Safe           bool          `json:"safe"`
	ViolationValid bool          `json:"violation_valid"`
	ViolationCode  ViolationCode `json:"violation_code"`
	FaultMask      Category      `json:"fault_mask"`
	LastSample     Sample        `json:"last_sample"`
	SampleValid    bool          `json:"sample_valid"`
	Debounce       int           `json:"debounce"`
	Armed          bool          `json:"armed"`
}

// IdleOutputs is the output set immediately after reset.
func IdleOutputs() Outputs {
	return Outputs{State: StateIdle}
}

// Canonical returns the outputs as a canonical-JSON-ready map. Only integers,
// booleans and strings appear so the encoding is stable across platforms.
func (o Outputs) Canonical() map[string]any {
	return map[string]any{
		"state":           int64(o.State),
		"power_enable":    o.PowerEnable,
		"fault":           o.Fault,
		"safe":            o.Safe,
		"violation_valid": o.ViolationValid,
		"violation_code":  int64(o.ViolationCode),
		"fault_mask":      int64(o.FaultMask),
		"sample_valid":    o.SampleValid,
		"debounce":        int64(o.Debounce),
		"armed":           o.Armed,
		"last_sample": map[string]any{
			"channel": int64(o.LastSample.Channel),
			"value":   int64(o.LastSample.Value),
			"seq":     int64(o.LastSample.Seq),
			"valid":   o.LastSample.Valid,
		},
	}
}
