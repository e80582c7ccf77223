package action

import "github.com/efmgo/dslink/linkerr"

// ModifierKind is how a table-shaped result's new rows relate to the
// peer's cached rows.
type ModifierKind int

const (
	// ModifierNone leaves the peer's existing cache alone; new rows
	// are simply appended per the active StreamingMode.
	ModifierNone ModifierKind = iota
	ModifierInsert
	ModifierReplace
)

// TableModifier supplements a table-shaped result with row-range
// semantics the plain streaming modes don't express: Insert places new
// rows after an offset, Replace substitutes the inclusive range
// [Start, End].
type TableModifier struct {
	Kind  ModifierKind
	Start uint64
	End   uint64
}

// Insert returns a modifier that inserts new rows after offset.
func Insert(offset uint64) TableModifier {
	return TableModifier{Kind: ModifierInsert, Start: offset}
}

// Replace returns a modifier that replaces rows [start, end] inclusive.
// end must be >= start; violating that is a configuration error raised
// synchronously rather than deferred to send time.
func Replace(start, end uint64) (TableModifier, error) {
	if end < start {
		return TableModifier{}, linkerr.Wrap(linkerr.InvalidTableReplaceModifierIndex,
			"replace modifier")
	}
	return TableModifier{Kind: ModifierReplace, Start: start, End: end}, nil
}
