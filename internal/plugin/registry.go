package plugin

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kafuuchino-desu/mcdr-go/internal/command"
)

// DefaultListenerPriority is used when a plugin registers a listener
// without specifying one explicitly.
const DefaultListenerPriority = 1000

// Event is a single occurrence dispatched to registered listeners: a server
// output line, a lifecycle transition, a player action, or any other named
// occurrence a plugin can react to.
type Event struct {
	Name string
	Data any
}

// ListenerFunc is a plugin's handler for one event type. ctx carries the
// dispatch context the reactor worker built, including the current-plugin
// value the façade's registration methods read back.
type ListenerFunc func(ctx context.Context, event Event) error

// listenerSeq is the process-wide registration counter. Every listener,
// whichever plugin registers it, draws its Seq here, so "ties broken by
// insertion order" means true registration chronology even after the
// aggregate registry merges listeners across plugins.
var listenerSeq atomic.Int64

// EventListener pairs a registered handler with the plugin that registered
// it, the priority used to order dispatch (lower runs first), and the
// global registration sequence that breaks priority ties.
type EventListener struct {
	PluginID string
	Priority int
	Seq      int64
	Callback ListenerFunc
}

// HelpMessage is a line a plugin contributes to the aggregated `!!help`
// listing.
type HelpMessage struct {
	PluginID string
	Prefix   string
	Message  string
}

// CommandRegistration pairs a registered command tree root with the plugin
// that registered it.
type CommandRegistration struct {
	PluginID string
	Root     command.Node
}

// Registry accumulates everything a single plugin contributes to the
// daemon while it loads: event listeners, command tree roots, and help
// text. It is built fresh for every load attempt and discarded on unload.
type Registry struct {
	mu        sync.Mutex
	listeners map[string][]EventListener
	commands  []CommandRegistration
	help      []HelpMessage
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{listeners: make(map[string][]EventListener)}
}

// AddEventListener registers cb to run whenever eventName fires, from the
// plugin identified by pluginID. priority orders dispatch ascending; ties
// break by registration order.
func (r *Registry) AddEventListener(eventName, pluginID string, priority int, cb ListenerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[eventName] = append(r.listeners[eventName], EventListener{
		PluginID: pluginID,
		Priority: priority,
		Seq:      listenerSeq.Add(1),
		Callback: cb,
	})
	sort.SliceStable(r.listeners[eventName], func(i, j int) bool {
		li, lj := r.listeners[eventName][i], r.listeners[eventName][j]
		if li.Priority != lj.Priority {
			return li.Priority < lj.Priority
		}
		return li.Seq < lj.Seq
	})
}

// ListenersFor returns the listeners registered for eventName, in dispatch
// order. The returned slice is a copy; callers must not mutate it.
func (r *Registry) ListenersFor(eventName string) []EventListener {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.listeners[eventName]
	out := make([]EventListener, len(src))
	copy(out, src)
	return out
}

// EventNames returns every event name this registry has at least one
// listener for.
func (r *Registry) EventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.listeners))
	for name := range r.listeners {
		names = append(names, name)
	}
	return names
}

// AddCommand registers a command tree root contributed by a plugin.
func (r *Registry) AddCommand(pluginID string, root command.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, CommandRegistration{PluginID: pluginID, Root: root})
}

// Commands returns every command tree root registered so far.
func (r *Registry) Commands() []CommandRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CommandRegistration, len(r.commands))
	copy(out, r.commands)
	return out
}

// AddHelpMessage registers one help-listing line contributed by a plugin.
func (r *Registry) AddHelpMessage(pluginID, prefix, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.help = append(r.help, HelpMessage{PluginID: pluginID, Prefix: prefix, Message: message})
}

// HelpMessages returns every help-listing line registered so far.
func (r *Registry) HelpMessages() []HelpMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HelpMessage, len(r.help))
	copy(out, r.help)
	return out
}

// RemovePlugin drops every contribution made by pluginID. Called when a
// plugin unloads, so stale listeners and commands don't linger.
func (r *Registry) RemovePlugin(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, ls := range r.listeners {
		filtered := ls[:0]
		for _, l := range ls {
			if l.PluginID != pluginID {
				filtered = append(filtered, l)
			}
		}
		r.listeners[name] = filtered
	}
	help := r.help[:0]
	for _, h := range r.help {
		if h.PluginID != pluginID {
			help = append(help, h)
		}
	}
	r.help = help

	cmds := r.commands[:0]
	for _, c := range r.commands {
		if c.PluginID != pluginID {
			cmds = append(cmds, c)
		}
	}
	r.commands = cmds
}
