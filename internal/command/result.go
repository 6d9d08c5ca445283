package command

import "github.com/rbright/vcd/pkg/engineabi"

// ResultKind separates results that carry resolved commands from display-only ones.
type ResultKind string

const (
	ResultFull         ResultKind = "full"
	ResultNotification ResultKind = "notification"
)

// Result is one recognition outcome as delivered to the manager or a client.
type Result struct {
	Kind     ResultKind            `json:"kind"`
	Event    engineabi.ResultEvent `json:"event"`
	Commands []Command             `json:"commands,omitempty"`
	Text     string                `json:"text,omitempty"`
	Message  string                `json:"message,omitempty"`
}

// PIDs returns the distinct source pids of the result's commands in first-seen order.
func (r Result) PIDs() []int {
	seen := map[int]bool{}
	var pids []int
	for _, c := range r.Commands {
		if c.PID <= 0 || seen[c.PID] {
			continue
		}
		seen[c.PID] = true
		pids = append(pids, c.PID)
	}
	return pids
}

// ForPID narrows the result to the commands owned by pid.
func (r Result) ForPID(pid int) Result {
	out := r
	out.Commands = nil
	for _, c := range r.Commands {
		if c.PID == pid {
			out.Commands = append(out.Commands, c)
		}
	}
	return out
}
