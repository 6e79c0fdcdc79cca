// Package shadow compares a response produced during replay against the
// recorded one.
package shadow

// Dimension is the part of a response a mismatch was found in.
type Dimension string

const (
	DimensionStatus Dimension = "status"
	DimensionBody   Dimension = "body"
	DimensionHeader Dimension = "header"
)

// Outcome is the result of comparing one pair.
type Outcome struct {
	Pass bool  `json:"pass"`
	Diff *Diff `json:"diff,omitempty"`
}

// Diff describes the first divergence found.
type Diff struct {
	Dimension Dimension `json:"dimension"`
	// Header is set for header mismatches.
	Header   string `json:"header,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	// Text is a readable structural diff (-expected +actual).
	Text string `json:"text,omitempty"`
}

func (d *Diff) String() string {
	switch d.Dimension {
	case DimensionStatus:
		return "status expected " + d.Expected + ", got " + d.Actual
	case DimensionHeader:
		return "header " + d.Header + " differs: expected " + d.Expected + ", got " + d.Actual
	default:
		return "body differs"
	}
}
