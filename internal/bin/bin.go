package bin

import "strings"

// Color identifies one of the physical bins the actuator can route an item to.
type Color string

const (
	Yellow Color = "yellow"
	Green  Color = "green"
	Brown  Color = "brown"
)

// Colors lists the valid bins in the order they are presented to the operator.
var Colors = []Color{Yellow, Green, Brown}

// Choice describes a bin the way it is offered to an operator.
type Choice struct {
	Color   Color  `json:"color"`
	Meaning string `json:"meaning"`
	Hint    string `json:"hint"`
}

var choices = map[Color]Choice{
	Yellow: {Color: Yellow, Meaning: "recyclable", Hint: "plastic, cardboard, metal"},
	Green:  {Color: Green, Meaning: "organic", Hint: "food waste, biodegradable"},
	Brown:  {Color: Brown, Meaning: "general waste", Hint: "non-recyclable"},
}

// Choices returns the valid bins with their meaning, in presentation order.
func Choices() []Choice {
	out := make([]Choice, 0, len(Colors))
	for _, c := range Colors {
		out = append(out, choices[c])
	}
	return out
}

// Valid reports whether c is one of the known bins.
func (c Color) Valid() bool {
	_, ok := choices[c]
	return ok
}

// Meaning returns the semantic category of the bin, or "" for unknown colors.
func (c Color) Meaning() string {
	return choices[c].Meaning
}

func (c Color) String() string {
	return string(c)
}

// ParseColor matches s against the valid bins, ignoring case and surrounding whitespace.
func ParseColor(s string) (Color, bool) {
	c := Color(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", false
	}
	return c, true
}

// Record is a learned classification: a normalized item label and its bin.
type Record struct {
	// Label is the normalized item name (unique)
	Label string `json:"item_label"`

	// Color is the bin the item is routed to
	Color Color `json:"bin_color"`

	// CreatedAt is the Unix timestamp of the first successful resolution
	CreatedAt int64 `json:"created_at"`

	// UsageCount counts successful resolutions, including the one that created the record
	UsageCount int `json:"usage_count"`
}
