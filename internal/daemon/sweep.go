package daemon

import (
	"context"
	"time"

	"github.com/rbright/vcd/internal/ipc"
)

type sweepTarget struct {
	pid  int
	role ipc.Role
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep probes every registered pid with hello and evicts the ones that do not answer.
// Probes run off the loop; the snapshot and evictions run on it.
func (d *Daemon) Sweep(ctx context.Context) {
	if !d.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer d.sweeping.Store(false)

	var targets []sweepTarget
	if err := d.loop.Call(ctx, func() { targets = d.sweepTargets() }); err != nil {
		return
	}

	for _, target := range targets {
		alive, err := d.notifier.Hello(ctx, target.pid)
		if err != nil {
			// A broker failure says nothing about the client.
			d.logger.Warn("hello probe failed", "pid", target.pid, "role", string(target.role), "error", err.Error())
			continue
		}
		if alive {
			continue
		}
		d.loop.Post(func() { d.evict(target) })
	}
}

func (d *Daemon) sweepTargets() []sweepTarget {
	var targets []sweepTarget
	if pid, ok := d.registry.ManagerPID(); ok {
		targets = append(targets, sweepTarget{pid: pid, role: ipc.RoleManager})
	}
	for _, c := range d.registry.Clients() {
		targets = append(targets, sweepTarget{pid: c.PID, role: ipc.RoleClient})
	}
	for _, w := range d.registry.Widgets() {
		targets = append(targets, sweepTarget{pid: w.PID, role: ipc.RoleWidget})
	}
	return targets
}

// evict drops a pid that stopped answering. The pid may have finalized in the meantime.
func (d *Daemon) evict(target sweepTarget) {
	ctx := d.ctx
	switch target.role {
	case ipc.RoleManager:
		if !d.registry.IsManager(target.pid) {
			return
		}
		d.logger.Info("evicting unresponsive manager", "pid", target.pid)
		d.dropManager(ctx)
		return
	case ipc.RoleClient:
		if d.registry.RemoveClient(target.pid) != nil {
			return
		}
	case ipc.RoleWidget:
		if d.registry.RemoveWidget(target.pid) != nil {
			return
		}
	}
	d.logger.Info("evicted unresponsive pid", "pid", target.pid, "role", string(target.role))
	d.forget(ctx, target.pid)
	d.checkIdle()
}
