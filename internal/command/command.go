// Package command defines voice commands and the aggregated per-session command snapshot.
package command

import (
	"fmt"
	"strings"
)

// Group identifies which contributor a command list belongs to.
type Group int

const (
	GroupForeground Group = iota + 1
	GroupBackground
	GroupWidget
	GroupSystem
	GroupSystemExclusive
)

var groupNames = map[Group]string{
	GroupForeground:      "foreground",
	GroupBackground:      "background",
	GroupWidget:          "widget",
	GroupSystem:          "system",
	GroupSystemExclusive: "system_exclusive",
}

func (g Group) String() string {
	if name, ok := groupNames[g]; ok {
		return name
	}
	return fmt.Sprintf("group(%d)", int(g))
}

// Valid reports whether g names a known group.
func (g Group) Valid() bool {
	_, ok := groupNames[g]
	return ok
}

// ParseGroup resolves a wire group name.
func ParseGroup(raw string) (Group, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for g, name := range groupNames {
		if name == raw {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown command group %q", raw)
}

// Format describes which part of a command is fixed and which is filled from speech.
type Format int

const (
	FormatFixed Format = iota
	// FormatFixedThenExtra keeps Text fixed and fills Parameter with the trailing free speech.
	FormatFixedThenExtra
	// FormatExtraThenFixed keeps Parameter fixed and fills Text with the leading free speech.
	FormatExtraThenFixed
)

// Command is one recognizable phrase registered by a client, widget, or manager.
//
// ID is assigned per aggregation pass and is meaningless outside that snapshot.
type Command struct {
	ID        int    `json:"id"`
	PID       int    `json:"pid"`
	Group     Group  `json:"group"`
	Format    Format `json:"format"`
	Text      string `json:"text"`
	Parameter string `json:"parameter,omitempty"`
	Domain    int    `json:"domain"`
	Key       int    `json:"key"`
	Modifier  int    `json:"modifier"`
}

// HasNonFixed reports whether the format carries a speech-filled component.
func (c Command) HasNonFixed() bool {
	return c.Format == FormatFixedThenExtra || c.Format == FormatExtraThenFixed
}

// SpliceNonFixed fills the variable side of the command with text when that side is empty.
func (c *Command) SpliceNonFixed(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	switch c.Format {
	case FormatFixedThenExtra:
		if c.Parameter == "" {
			c.Parameter = text
		}
	case FormatExtraThenFixed:
		if c.Text == "" {
			c.Text = text
		}
	}
}
