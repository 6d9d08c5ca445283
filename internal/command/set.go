package command

import (
	"fmt"

	"github.com/rbright/vcd/internal/vcerr"
)

// BackgroundGroup is one background contributor's commands.
type BackgroundGroup struct {
	PID      int       `json:"pid"`
	Commands []Command `json:"commands"`
}

// Set is one aggregation snapshot. It is rebuilt wholesale before every session start.
type Set struct {
	Widget          []Command         `json:"widget,omitempty"`
	Foreground      []Command         `json:"foreground,omitempty"`
	System          []Command         `json:"system,omitempty"`
	SystemExclusive []Command         `json:"system_exclusive,omitempty"`
	Background      []BackgroundGroup `json:"background,omitempty"`
}

// groups returns every command slice in resolution order:
// widget, foreground, system, exclusive system, then background groups.
func (s *Set) groups() [][]Command {
	out := make([][]Command, 0, 4+len(s.Background))
	out = append(out, s.Widget, s.Foreground, s.System, s.SystemExclusive)
	for _, bg := range s.Background {
		out = append(out, bg.Commands)
	}
	return out
}

// Count returns the total number of commands across all groups.
func (s *Set) Count() int {
	if s == nil {
		return 0
	}
	total := len(s.Widget) + len(s.Foreground) + len(s.System) + len(s.SystemExclusive)
	for _, bg := range s.Background {
		total += len(bg.Commands)
	}
	return total
}

// ReassignIDs numbers commands 1..N contiguously in resolution order.
func (s *Set) ReassignIDs() {
	next := 1
	for _, cmds := range s.groups() {
		for i := range cmds {
			cmds[i].ID = next
			next++
		}
	}
}

// Resolve returns a copy of the command with id.
func (s *Set) Resolve(id int) (Command, error) {
	if s != nil && id > 0 {
		for _, cmds := range s.groups() {
			for _, cmd := range cmds {
				if cmd.ID == id {
					return cmd, nil
				}
			}
		}
	}
	return Command{}, fmt.Errorf("command id %d: %w", id, vcerr.ErrNotFound)
}

// Each calls fn with a copy of every command in resolution order until fn returns false.
func (s *Set) Each(fn func(Command) bool) {
	if s == nil {
		return
	}
	for _, cmds := range s.groups() {
		for _, cmd := range cmds {
			if !fn(cmd) {
				return
			}
		}
	}
}
