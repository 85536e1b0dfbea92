package xr

import "fmt"

// Sample is one accepted capture: a raw reading tagged with its channel and
// the capture sequence number.
type Sample struct {
	Channel int    `json:"channel"`
	Value   uint16 `json:"value"`
	Seq     uint32 `json:"seq"`
	Valid   bool   `json:"valid"`
}

func (s Sample) String() string {
	return fmt.Sprintf("ch=%d value=0x%04X seq=%d valid=%t", s.Channel, s.Value, s.Seq, s.Valid)
}
