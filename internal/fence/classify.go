package fence

import (
	"fmt"
)

// Classification is the verdict on one fence.
type Classification uint8

// Verdicts. Coarse mode yields Necessary, Redundant or OverSynchronized;
// fine mode yields Necessary or one of the three variants.
const (
	Pending Classification = iota
	Necessary
	Redundant
	OverSynchronized
	Variant1
	Variant2
	Variant3
)

func (c Classification) String() string {
	switch c {
	case Pending:
		return "pending"
	case Necessary:
		return "necessary"
	case Redundant:
		return "redundant"
	case OverSynchronized:
		return "over-synchronized"
	case Variant1:
		return "Variant 1"
	case Variant2:
		return "Variant 2"
	case Variant3:
		return "Variant 3"
	default:
		return fmt.Sprintf("classification(%d)", uint8(c))
	}
}

// Removable reports whether the fence is a candidate for weakening or removal.
func (c Classification) Removable() bool {
	return c != Pending && c != Necessary
}

// Decide classifies a fence from its flags and the operation sets of the
// window it opens (cur) and the following one (next).
func Decide(notOversync, redundant bool, cur, next Ops, coarse bool) Classification {
	if notOversync {
		return Necessary
	}
	if coarse {
		if redundant {
			return Redundant
		}
		return OverSynchronized
	}

	switch {
	case redundant:
		return Variant2
	case cur == 0:
		return Variant3
	case next == 0:
		// likely intra-block traffic only
		return Variant3
	default:
		return Variant1
	}
}
