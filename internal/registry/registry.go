// Package registry tracks connected clients, widgets, and the single manager.
package registry

import (
	"fmt"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/vcerr"
)

// ClientRecord is one connected normal client.
type ClientRecord struct {
	PID        int  `json:"pid"`
	Foreground bool `json:"foreground"`
	Background bool `json:"background"`
	Exclusive  bool `json:"exclusive"`
}

// WidgetRecord is one connected widget.
type WidgetRecord struct {
	PID            int  `json:"pid"`
	WidgetCommands bool `json:"widget_commands"`
}

// ManagerInfo describes the manager slot. PID is meaningful only when Registered.
type ManagerInfo struct {
	PID               int  `json:"pid"`
	Registered        bool `json:"registered"`
	HasSystemCommands bool `json:"has_system_commands"`
	ExclusiveMode     bool `json:"exclusive_mode"`
}

// Registry holds every connection record. It performs no I/O and is owned by the daemon's event loop.
type Registry struct {
	clients []ClientRecord
	widgets []WidgetRecord
	manager ManagerInfo
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// AddClient registers a normal client.
func (r *Registry) AddClient(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("client pid %d: %w", pid, vcerr.ErrInvalidArgument)
	}
	if r.clientIndex(pid) >= 0 {
		return fmt.Errorf("client pid %d: %w", pid, vcerr.ErrAlreadyExists)
	}
	r.clients = append(r.clients, ClientRecord{PID: pid})
	return nil
}

// RemoveClient drops a normal client.
func (r *Registry) RemoveClient(pid int) error {
	i := r.clientIndex(pid)
	if i < 0 {
		return fmt.Errorf("client pid %d: %w", pid, vcerr.ErrNotFound)
	}
	r.clients = append(r.clients[:i], r.clients[i+1:]...)
	return nil
}

// IsClient reports whether pid is a registered client.
func (r *Registry) IsClient(pid int) bool {
	return r.clientIndex(pid) >= 0
}

// Client returns a copy of the client record for pid.
func (r *Registry) Client(pid int) (ClientRecord, error) {
	i := r.clientIndex(pid)
	if i < 0 {
		return ClientRecord{}, fmt.Errorf("client pid %d: %w", pid, vcerr.ErrNotFound)
	}
	return r.clients[i], nil
}

// Clients returns client records in registration order.
func (r *Registry) Clients() []ClientRecord {
	return append([]ClientRecord(nil), r.clients...)
}

// SetClientSubscription subscribes pid to foreground or background commands.
func (r *Registry) SetClientSubscription(pid int, group command.Group) error {
	return r.updateSubscription(pid, group, true)
}

// UnsetClientSubscription removes a foreground or background subscription.
func (r *Registry) UnsetClientSubscription(pid int, group command.Group) error {
	return r.updateSubscription(pid, group, false)
}

func (r *Registry) updateSubscription(pid int, group command.Group, on bool) error {
	i := r.clientIndex(pid)
	if i < 0 {
		return fmt.Errorf("client pid %d: %w", pid, vcerr.ErrNotFound)
	}
	switch group {
	case command.GroupForeground:
		r.clients[i].Foreground = on
	case command.GroupBackground:
		r.clients[i].Background = on
	default:
		return fmt.Errorf("client subscription %s: %w", group, vcerr.ErrInvalidArgument)
	}
	return nil
}

// SetClientExclusive marks pid as the sole background contributor for the next aggregation.
func (r *Registry) SetClientExclusive(pid int) error {
	return r.updateExclusive(pid, true)
}

// UnsetClientExclusive clears the exclusive mark.
func (r *Registry) UnsetClientExclusive(pid int) error {
	return r.updateExclusive(pid, false)
}

func (r *Registry) updateExclusive(pid int, on bool) error {
	i := r.clientIndex(pid)
	if i < 0 {
		return fmt.Errorf("client pid %d: %w", pid, vcerr.ErrNotFound)
	}
	r.clients[i].Exclusive = on
	return nil
}

// ClearExclusive removes every client's exclusive mark.
func (r *Registry) ClearExclusive() {
	for i := range r.clients {
		r.clients[i].Exclusive = false
	}
}

// AddWidget registers a widget.
func (r *Registry) AddWidget(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("widget pid %d: %w", pid, vcerr.ErrInvalidArgument)
	}
	if r.widgetIndex(pid) >= 0 {
		return fmt.Errorf("widget pid %d: %w", pid, vcerr.ErrAlreadyExists)
	}
	r.widgets = append(r.widgets, WidgetRecord{PID: pid})
	return nil
}

// RemoveWidget drops a widget.
func (r *Registry) RemoveWidget(pid int) error {
	i := r.widgetIndex(pid)
	if i < 0 {
		return fmt.Errorf("widget pid %d: %w", pid, vcerr.ErrNotFound)
	}
	r.widgets = append(r.widgets[:i], r.widgets[i+1:]...)
	return nil
}

// IsWidget reports whether pid is a registered widget.
func (r *Registry) IsWidget(pid int) bool {
	return r.widgetIndex(pid) >= 0
}

// Widget returns a copy of the widget record for pid.
func (r *Registry) Widget(pid int) (WidgetRecord, error) {
	i := r.widgetIndex(pid)
	if i < 0 {
		return WidgetRecord{}, fmt.Errorf("widget pid %d: %w", pid, vcerr.ErrNotFound)
	}
	return r.widgets[i], nil
}

// Widgets returns widget records in registration order.
func (r *Registry) Widgets() []WidgetRecord {
	return append([]WidgetRecord(nil), r.widgets...)
}

// SetWidgetSubscription subscribes pid to widget commands.
func (r *Registry) SetWidgetSubscription(pid int) error {
	i := r.widgetIndex(pid)
	if i < 0 {
		return fmt.Errorf("widget pid %d: %w", pid, vcerr.ErrNotFound)
	}
	r.widgets[i].WidgetCommands = true
	return nil
}

// UnsetWidgetSubscription removes a widget command subscription.
func (r *Registry) UnsetWidgetSubscription(pid int) error {
	i := r.widgetIndex(pid)
	if i < 0 {
		return fmt.Errorf("widget pid %d: %w", pid, vcerr.ErrNotFound)
	}
	r.widgets[i].WidgetCommands = false
	return nil
}

// RegisterManager claims the manager slot for pid.
func (r *Registry) RegisterManager(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("manager pid %d: %w", pid, vcerr.ErrInvalidArgument)
	}
	if r.manager.Registered {
		if r.manager.PID == pid {
			return fmt.Errorf("manager pid %d: %w", pid, vcerr.ErrAlreadyExists)
		}
		return fmt.Errorf("manager slot held by pid %d: %w", r.manager.PID, vcerr.ErrAlreadyExists)
	}
	r.manager = ManagerInfo{PID: pid, Registered: true}
	return nil
}

// UnregisterManager releases the manager slot.
func (r *Registry) UnregisterManager() error {
	if !r.manager.Registered {
		return fmt.Errorf("manager: %w", vcerr.ErrNotFound)
	}
	r.manager = ManagerInfo{}
	return nil
}

// IsManager reports whether pid holds the manager slot.
func (r *Registry) IsManager(pid int) bool {
	return r.manager.Registered && r.manager.PID == pid
}

// Manager returns a copy of the manager slot.
func (r *Registry) Manager() ManagerInfo {
	return r.manager
}

// ManagerPID returns the registered manager pid.
func (r *Registry) ManagerPID() (int, bool) {
	return r.manager.PID, r.manager.Registered
}

// SetManagerSystemCommands records whether the manager has registered system commands.
func (r *Registry) SetManagerSystemCommands(has bool) error {
	if !r.manager.Registered {
		return fmt.Errorf("manager: %w", vcerr.ErrNotFound)
	}
	r.manager.HasSystemCommands = has
	return nil
}

// SetManagerExclusiveMode toggles manager exclusive mode.
func (r *Registry) SetManagerExclusiveMode(on bool) {
	r.manager.ExclusiveMode = on
}

// ManagerExclusiveMode reports whether manager exclusive mode is active.
func (r *Registry) ManagerExclusiveMode() bool {
	return r.manager.ExclusiveMode
}

// ReferenceCount counts clients, widgets, and the manager.
func (r *Registry) ReferenceCount() int {
	count := len(r.clients) + len(r.widgets)
	if r.manager.Registered {
		count++
	}
	return count
}

func (r *Registry) clientIndex(pid int) int {
	for i := range r.clients {
		if r.clients[i].PID == pid {
			return i
		}
	}
	return -1
}

func (r *Registry) widgetIndex(pid int) int {
	for i := range r.widgets {
		if r.widgets[i].PID == pid {
			return i
		}
	}
	return -1
}
