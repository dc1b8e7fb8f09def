package ledger

import (
	"strconv"
	"strings"
)

type CellKind int

const (
	NumberCell CellKind = iota
	TextCell
	FormulaCell
)

func (k CellKind) String() string {
	switch k {
	case NumberCell:
		return "number"
	case TextCell:
		return "text"
	case FormulaCell:
		return "formula"
	default:
		return "unknown"
	}
}

// InputMode tells the backend whether to interpret formulas.
type InputMode int

const (
	// UserEntered evaluates formula cells, like typing into the sheet UI.
	UserEntered InputMode = iota
	// Raw stores every cell as literal text.
	Raw
)

func (m InputMode) String() string {
	if m == Raw {
		return "RAW"
	}
	return "USER_ENTERED"
}

// Cell is one ledger value tagged with how it must be written.
type Cell struct {
	Kind  CellKind
	Value string
}

func Number(n int) Cell       { return Cell{Kind: NumberCell, Value: strconv.Itoa(n)} }
func Text(s string) Cell      { return Cell{Kind: TextCell, Value: s} }
func Formula(f string) Cell   { return Cell{Kind: FormulaCell, Value: f} }
func (c Cell) String() string { return c.Value }

// Encode returns the value to send for mode. In UserEntered mode text that the
// sheet would otherwise parse (a leading =, +, - or @, or anything numeric such
// as a phone number with a leading zero) is prefixed with an apostrophe so it
// stays literal.
func (c Cell) Encode(mode InputMode) any {
	switch c.Kind {
	case NumberCell:
		if n, err := strconv.Atoi(c.Value); err == nil {
			return n
		}
		return c.Value
	case FormulaCell:
		return c.Value
	default:
		if mode == UserEntered && needsQuote(c.Value) {
			return "'" + c.Value
		}
		return c.Value
	}
}

func needsQuote(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsRune("=+-@'", rune(s[0])) {
		return true
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// Row is one ledger line.
type Row []Cell

// Values encodes the row for mode.
func (r Row) Values(mode InputMode) []any {
	out := make([]any, len(r))
	for i, c := range r {
		out[i] = c.Encode(mode)
	}
	return out
}

// Strings returns the raw cell values.
func (r Row) Strings() []string {
	out := make([]string, len(r))
	for i, c := range r {
		out[i] = c.Value
	}
	return out
}
