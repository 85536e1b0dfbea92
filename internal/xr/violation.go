package xr

import (
	"fmt"
	"strconv"
	"strings"
)

// ViolationKind tags the result of classifying one value against its envelope.
type ViolationKind uint8

const (
	NoViolation ViolationKind = iota
	Under
	Over
)

func (k ViolationKind) String() string {
	switch k {
	case NoViolation:
		return "none"
	case Under:
		return "under"
	case Over:
		return "over"
	default:
		return fmt.Sprintf("ViolationKind(%d)", uint8(k))
	}
}

// Category is a fault category bit. Categories are or-ed into fault masks and
// shifted into the upper bits of a ViolationCode.
type Category uint8

const (
	UnderVoltage Category = 0x01
	OverVoltage  Category = 0x02
	UnderCurrent Category = 0x04
	OverCurrent  Category = 0x08
	UnderTemp    Category = 0x10
	OverTemp     Category = 0x20
	UnderRange   Category = 0x40
	OverRange    Category = 0x80
)

var categoryNames = []struct {
	bit  Category
	name string
}{
	{UnderVoltage, "UNDER_VOLTAGE"},
	{OverVoltage, "OVER_VOLTAGE"},
	{UnderCurrent, "UNDER_CURRENT"},
	{OverCurrent, "OVER_CURRENT"},
	{UnderTemp, "UNDER_TEMP"},
	{OverTemp, "OVER_TEMP"},
	{UnderRange, "UNDER_RANGE"},
	{OverRange, "OVER_RANGE"},
}

// String renders the set bits joined with "|", or "NONE".
func (c Category) String() string {
	if c == 0 {
		return "NONE"
	}
	var parts []string
	for _, cn := range categoryNames {
		if c&cn.bit != 0 {
			parts = append(parts, cn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseCategory resolves a single category name such as "OVER_CURRENT".
func ParseCategory(raw string) (Category, error) {
	up := strings.ToUpper(strings.TrimSpace(raw))
	for _, cn := range categoryNames {
		if cn.name == up {
			return cn.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown violation category %q", raw)
}

// CategoryFor maps a channel kind and violation direction to its category.
func CategoryFor(kind Kind, vk ViolationKind) Category {
	if vk == NoViolation {
		return 0
	}
	under := vk == Under
	switch kind {
	case KindVoltage:
		if under {
			return UnderVoltage
		}
		return OverVoltage
	case KindCurrent, KindCurrentReturn:
		if under {
			return UnderCurrent
		}
		return OverCurrent
	case KindTemperature:
		if under {
			return UnderTemp
		}
		return OverTemp
	default:
		if under {
			return UnderRange
		}
		return OverRange
	}
}

// ViolationCode packs a category bitfield and a channel index.
// The zero value means no violation.
type ViolationCode uint32

// NewViolationCode builds category<<8 | channel.
func NewViolationCode(cat Category, channel int) ViolationCode {
	return ViolationCode(uint32(cat)<<8 | uint32(channel)&0xFF)
}

func (c ViolationCode) Category() Category { return Category(c >> 8) }
func (c ViolationCode) Channel() int       { return int(c & 0xFF) }

func (c ViolationCode) String() string {
	if c == 0 {
		return "NONE"
	}
	return fmt.Sprintf("%s@ch%d", c.Category(), c.Channel())
}

// ParseViolationCode accepts the String form ("OVER_CURRENT@ch2", "NONE").
func ParseViolationCode(raw string) (ViolationCode, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "none") {
		return 0, nil
	}
	name, ch, ok := strings.Cut(raw, "@ch")
	if !ok {
		return 0, fmt.Errorf("violation code %q: want CATEGORY@chN", raw)
	}
	cat, err := ParseCategory(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(ch)
	if err != nil || n < 0 || n > 0xFF {
		return 0, fmt.Errorf("violation code %q: bad channel", raw)
	}
	return NewViolationCode(cat, n), nil
}

// Violation is one classified out-of-envelope reading.
type Violation struct {
	Channel  int           `json:"channel"`
	Kind     ViolationKind `json:"kind"`
	Severity uint8         `json:"severity"`
	Code     ViolationCode `json:"code"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s ch=%d sev=%d code=0x%04X", v.Kind, v.Channel, v.Severity, uint32(v.Code))
}
