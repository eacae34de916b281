package enums

import "fmt"

// MovementKind classifies a stock movement applied to a variant.
type MovementKind string

const (
	MovementKindSale       MovementKind = "sale"
	MovementKindRestock    MovementKind = "restock"
	MovementKindReturn     MovementKind = "return"
	MovementKindAdjustment MovementKind = "adjustment"
)

var validMovementKinds = []MovementKind{
	MovementKindSale,
	MovementKindRestock,
	MovementKindReturn,
	MovementKindAdjustment,
}

// String implements fmt.Stringer.
func (m MovementKind) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MovementKind.
func (m MovementKind) IsValid() bool {
	for _, candidate := range validMovementKinds {
		if candidate == m {
			return true
		}
	}
	return false
}

// RequiresOrderRef reports whether movements of this kind must reference an
// order. Order-linked kinds are the ones the coordinator dedup-guards.
func (m MovementKind) RequiresOrderRef() bool {
	return m == MovementKindSale || m == MovementKindReturn
}

// ExpectedSign returns -1 for kinds that remove stock, +1 for kinds that add
// it, and 0 when either direction is acceptable.
func (m MovementKind) ExpectedSign() int {
	switch m {
	case MovementKindSale:
		return -1
	case MovementKindRestock, MovementKindReturn:
		return 1
	default:
		return 0
	}
}

// ParseMovementKind converts raw input into a MovementKind.
func ParseMovementKind(value string) (MovementKind, error) {
	for _, candidate := range validMovementKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid movement kind %q", value)
}
