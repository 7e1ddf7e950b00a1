// Copyright 2025 James Ross
package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kafuuchino-desu/mcdr-go/internal/command"
	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
	"github.com/kafuuchino-desu/mcdr-go/internal/pluginmgr"
	"github.com/kafuuchino-desu/mcdr-go/internal/rcon"
	"github.com/kafuuchino-desu/mcdr-go/internal/reactor"
)

// EventPluginLoad and EventPluginUnload are the two built-in event ids
// every plugin may listen for, dispatched by the plugin manager's
// post-process phase around a load/unload/reload pass.
const (
	EventPluginLoad   = "PLUGIN_LOAD"
	EventPluginUnload = "PLUGIN_UNLOAD"
)

// EventInfo is the event id every Info record from the child process is
// dispatched under.
const EventInfo = "INFO"

// Facade is the single object plugin code is handed: it guards thread
// affinity for the two call families spec.md distinguishes (registration
// calls need a current-plugin context; management calls need to run on a
// reactor worker) and exposes the text/rcon helpers every plugin uses to
// talk back to the child server.
type Facade struct {
	mgr     *pluginmgr.Manager
	reactor *reactor.Reactor
	rcon    rcon.Manager
	iopump  IOPump
	logger  *zap.Logger
}

// New builds a Facade wiring the plugin manager, reactor, remote console
// and child-process I/O pump together. The façade also registers itself as
// the manager's EventDispatcher, so PLUGIN_LOAD/PLUGIN_UNLOAD dispatched by
// the manager's post-process phase reach plugin subprocesses through it.
func New(mgr *pluginmgr.Manager, r *reactor.Reactor, rc rcon.Manager, iopump IOPump, logger *zap.Logger) *Facade {
	f := &Facade{mgr: mgr, reactor: r, rcon: rc, iopump: iopump, logger: logger}
	mgr.SetDispatcher(f)
	return f
}

// --- Registration methods: require a current-plugin context. ---

// AddEventListener registers cb under eventName for the plugin identified
// by ctx's current-plugin value. Returns ErrIllegalCall if ctx carries no
// current plugin.
func (f *Facade) AddEventListener(ctx context.Context, eventName string, priority int, cb plugin.ListenerFunc) error {
	pluginID, ok := reactor.CurrentPlugin(ctx)
	if !ok {
		return ErrIllegalCall
	}
	p, ok := f.mgr.Plugin(pluginID)
	if !ok {
		return fmt.Errorf("server: plugin %q is not loaded", pluginID)
	}
	p.Registry().AddEventListener(eventName, pluginID, priority, cb)
	// re-arrange the aggregate so the new listener is seen from the next
	// dispatched event on
	f.mgr.Registry().Arrange()
	return nil
}

// AddCommand registers a command tree root for the current plugin.
func (f *Facade) AddCommand(ctx context.Context, root command.Node) error {
	pluginID, ok := reactor.CurrentPlugin(ctx)
	if !ok {
		return ErrIllegalCall
	}
	p, ok := f.mgr.Plugin(pluginID)
	if !ok {
		return fmt.Errorf("server: plugin %q is not loaded", pluginID)
	}
	p.Registry().AddCommand(pluginID, root)
	return nil
}

// AddHelpMessage registers one help-listing line for the current plugin.
func (f *Facade) AddHelpMessage(ctx context.Context, prefix, message string) error {
	pluginID, ok := reactor.CurrentPlugin(ctx)
	if !ok {
		return ErrIllegalCall
	}
	p, ok := f.mgr.Plugin(pluginID)
	if !ok {
		return fmt.Errorf("server: plugin %q is not loaded", pluginID)
	}
	p.Registry().AddHelpMessage(pluginID, prefix, message)
	return nil
}

// --- Plugin-management methods: require a reactor worker. ---

func (f *Facade) requireReactorThread(ctx context.Context) error {
	if !reactor.IsWorker(ctx) {
		return ErrNotOnReactorThread
	}
	return nil
}

// LoadPlugin loads a single plugin file. Must be called from a reactor
// worker (typically via Dispatch/ExecuteOrEnqueue).
func (f *Facade) LoadPlugin(ctx context.Context, path string) error {
	if err := f.requireReactorThread(ctx); err != nil {
		return err
	}
	return f.mgr.LoadPlugin(ctx, path)
}

// UnloadPlugin unloads a single loaded plugin.
func (f *Facade) UnloadPlugin(ctx context.Context, id string) error {
	if err := f.requireReactorThread(ctx); err != nil {
		return err
	}
	return f.mgr.UnloadPlugin(ctx, id)
}

// ReloadPlugin reloads a single ready plugin.
func (f *Facade) ReloadPlugin(ctx context.Context, id string) error {
	if err := f.requireReactorThread(ctx); err != nil {
		return err
	}
	return f.mgr.ReloadPlugin(ctx, id)
}

// RefreshAll reloads every loaded plugin, loads new files and drops
// missing ones.
func (f *Facade) RefreshAll(ctx context.Context) error {
	if err := f.requireReactorThread(ctx); err != nil {
		return err
	}
	return f.mgr.RefreshAll(ctx)
}

// --- Read-only façade methods: callable from any goroutine. ---

// Plugins returns every currently loaded plugin.
func (f *Facade) Plugins() []*plugin.Plugin { return f.mgr.Plugins() }

// HandleInfo enqueues one process-info record for dispatch to every INFO
// listener. The I/O pump calls this for each parsed line of child-process
// output; a full queue surfaces as reactor.ErrQueueFull, which the reactor
// has already folded into its rate-limited warning.
func (f *Facade) HandleInfo(info Info) error {
	return f.Dispatch(plugin.Event{Name: EventInfo, Data: info})
}

// Dispatch enqueues event for delivery to every listener registered
// against its name, in priority order, on a reactor worker. It returns
// reactor.ErrQueueFull if the queue has no room; callers (the I/O pump)
// treat that as recoverable back-pressure.
func (f *Facade) Dispatch(event plugin.Event) error {
	return f.reactor.AddInfoTask(func(ctx context.Context) {
		f.dispatchSync(ctx, event)
	})
}

// dispatchSync runs every listener for event.Name, in the order the
// aggregate registry already sorted them (priority ascending, insertion
// ascending). A plugin set snapshot is implicit: ListenersFor returns a
// copy, so additions made by a listener mid-dispatch only affect the next
// event. Listener errors and panics are caught and logged; they never
// abort sibling listeners.
func (f *Facade) dispatchSync(ctx context.Context, event plugin.Event) {
	listeners := f.mgr.Registry().ListenersFor(event.Name)
	for _, l := range listeners {
		f.runListener(ctx, l, event)
	}
}

// runListener invokes one listener with the current-plugin value set on the
// context for exactly the duration of the call, so registration methods the
// listener makes back into the façade attribute to the right plugin. The
// deferred recover guarantees the call's panic never leaks into siblings,
// and the per-call child context guarantees the current-plugin value does
// not outlive the invocation.
func (f *Facade) runListener(ctx context.Context, l plugin.EventListener, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("plugin listener panicked",
				zap.String("plugin_id", l.PluginID),
				zap.String("event", event.Name),
				zap.Any("panic", r))
		}
	}()
	lctx := reactor.WithPlugin(ctx, l.PluginID)
	if err := l.Callback(lctx, event); err != nil {
		f.logger.Error("plugin listener returned an error",
			zap.String("plugin_id", l.PluginID),
			zap.String("event", event.Name),
			zap.Error(err))
	}
}

// DispatchPluginLoad fires EventPluginLoad to p's own subprocess (so its
// on_load handler runs), carrying oldInstance's exported state across a
// reload per spec.md's carry-over rule. It does not go through the
// aggregate registry: PLUGIN_LOAD's recipient is always the single plugin
// that just became ready.
func (f *Facade) DispatchPluginLoad(ctx context.Context, p *plugin.Plugin, oldInstance any) error {
	return p.DispatchEvent(plugin.Event{Name: EventPluginLoad, Data: oldInstance})
}

// DispatchPluginUnload fires EventPluginUnload to p.
func (f *Facade) DispatchPluginUnload(ctx context.Context, p *plugin.Plugin) error {
	return p.DispatchEvent(plugin.Event{Name: EventPluginUnload})
}

// --- Text and RCON helpers ---

// Tell sends msg to a single reply channel, typically a specific player.
func (f *Facade) Tell(reply ReplyFunc, msg RichText) error {
	wire, err := msg.WireJSON()
	if err != nil {
		return fmt.Errorf("server: format tell message: %w", err)
	}
	return reply(string(wire))
}

// Say broadcasts msg to every connected player via the child process.
func (f *Facade) Say(msg RichText) error {
	wire, err := msg.WireJSON()
	if err != nil {
		return fmt.Errorf("server: format say message: %w", err)
	}
	return f.iopump.WriteLine(fmt.Sprintf("tellraw @a %s", wire))
}

// Reply sends msg back through source's own reply channel.
func (f *Facade) Reply(source command.CommandSource, msg RichText) error {
	wire, err := msg.WireJSON()
	if err != nil {
		return fmt.Errorf("server: format reply message: %w", err)
	}
	return source.Reply(string(wire))
}

// Execute writes a raw command line to the child process's standard input.
func (f *Facade) Execute(line string) error {
	return f.iopump.WriteLine(line)
}

// RconQuery forwards command to the remote console if it is currently
// running, returning ok=false (the façade's "null") when it isn't.
func (f *Facade) RconQuery(ctx context.Context, command string) (string, bool) {
	if !f.rcon.IsRunning() {
		return "", false
	}
	return f.rcon.SendCommand(ctx, command)
}
