package pluginmgr

import (
	"sort"
	"sync"

	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
)

// ManagerRegistry is the daemon-wide aggregate of every loaded plugin's
// contributions. It is rebuilt from scratch after every load/unload/reload
// pass (Clear then Collect for each surviving plugin, then Arrange), the
// way the original's registry_storage is cleared and recollected after
// __post_plugin_process.
type ManagerRegistry struct {
	mu        sync.RWMutex
	collected []*plugin.Registry
	listeners map[string][]plugin.EventListener
	commands  []plugin.CommandRegistration
	help      []plugin.HelpMessage
}

// NewManagerRegistry returns an empty aggregate registry.
func NewManagerRegistry() *ManagerRegistry {
	return &ManagerRegistry{listeners: make(map[string][]plugin.EventListener)}
}

// Clear drops every previously collected contribution.
func (m *ManagerRegistry) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collected = nil
	m.listeners = make(map[string][]plugin.EventListener)
	m.commands = nil
	m.help = nil
}

// Collect folds one plugin's Registry into the aggregate. Call Arrange once
// every live plugin has been collected.
func (m *ManagerRegistry) Collect(r *plugin.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, r.Commands()...)
	m.help = append(m.help, r.HelpMessages()...)
	m.collected = append(m.collected, r)
}

// Arrange finalizes listener ordering across every collected registry:
// global priority order, ties broken by each listener's registration
// sequence, which is monotonic across the whole process. Collection order
// deliberately plays no part, so a plugin's id never influences where its
// listeners land among same-priority peers.
func (m *ManagerRegistry) Arrange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := make(map[string][]plugin.EventListener)
	names := make(map[string]struct{})
	for _, r := range m.collected {
		for _, name := range r.EventNames() {
			names[name] = struct{}{}
		}
	}
	for name := range names {
		var all []plugin.EventListener
		for _, r := range m.collected {
			all = append(all, r.ListenersFor(name)...)
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].Priority != all[j].Priority {
				return all[i].Priority < all[j].Priority
			}
			return all[i].Seq < all[j].Seq
		})
		merged[name] = all
	}
	m.listeners = merged
}

// ListenersFor returns the arranged listeners for an event name.
func (m *ManagerRegistry) ListenersFor(eventName string) []plugin.EventListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.listeners[eventName]
	out := make([]plugin.EventListener, len(src))
	copy(out, src)
	return out
}

// Commands returns every registered command root.
func (m *ManagerRegistry) Commands() []plugin.CommandRegistration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]plugin.CommandRegistration, len(m.commands))
	copy(out, m.commands)
	return out
}

// HelpMessages returns every registered help line.
func (m *ManagerRegistry) HelpMessages() []plugin.HelpMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]plugin.HelpMessage, len(m.help))
	copy(out, m.help)
	return out
}
