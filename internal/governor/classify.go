package governor

import "github.com/apeichen/fpga-aichip/internal/xr"

// Classification is the tagged result of checking one value against one
// channel: NoViolation, Under(severity) or Over(severity).
type Classification struct {
	Kind     xr.ViolationKind
	Severity uint8
	Category xr.Category
}

// Violating reports whether the value lies outside the envelope.
func (c Classification) Violating() bool { return c.Kind != xr.NoViolation }

// Classify checks value against the channel envelope. Values equal to min or
// max are inside.
func Classify(value uint16, ch xr.ChannelConfig) Classification {
	var vk xr.ViolationKind
	switch {
	case value < ch.Envelope.Min:
		vk = xr.Under
	case value > ch.Envelope.Max:
		vk = xr.Over
	default:
		return Classification{}
	}
	return Classification{
		Kind:     vk,
		Severity: ch.Severity(vk),
		Category: xr.CategoryFor(ch.Kind, vk),
	}
}

// scan classifies every latched channel. It returns all violations in
// channel order, the bit-or of their categories, and the reported violation:
// highest severity first, lowest channel on a tie.
func scan(table []xr.ChannelConfig, latched []uint16, have []bool) (all []xr.Violation, mask xr.Category, top xr.Violation, found bool) {
	for i, ch := range table {
		if !have[i] {
			continue
		}
		c := Classify(latched[i], ch)
		if !c.Violating() {
			continue
		}
		v := xr.Violation{
			Channel:  i,
			Kind:     c.Kind,
			Severity: c.Severity,
			Code:     xr.NewViolationCode(c.Category, i),
		}
		all = append(all, v)
		mask |= c.Category
		if !found || v.Severity > top.Severity {
			top, found = v, true
		}
	}
	return all, mask, top, found
}
