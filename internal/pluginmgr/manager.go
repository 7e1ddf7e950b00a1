package pluginmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kafuuchino-desu/mcdr-go/internal/obs"
	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
)

// PluginFileSuffix is the extension a plugin's entry-point file or package
// directory must carry to be discovered by a refresh pass.
const PluginFileSuffix = ".mcdr"

// DisabledPluginFileSuffix marks a plugin file as administratively
// disabled; DisablePlugin appends it, EnablePlugin strips it.
const DisabledPluginFileSuffix = ".disabled"

// LoadFunc spawns and announces the subprocess backing the plugin found at
// path, returning the loaded (StateLoaded) plugin. It is injected so tests
// can substitute a fake loader; production wiring spawns the plugin binary
// and waits for its manifest announcement.
type LoadFunc func(ctx context.Context, path string) (*plugin.Plugin, error)

// Manager owns every loaded plugin, the folders it discovers them in, and
// the aggregate registry built from their contributions. It serializes all
// mutating operations behind a single mutex: plugin load/unload/reload is
// inherently rare and sequential, matching the original's single-threaded
// assumption around plugin management calls.
type Manager struct {
	mu            sync.Mutex
	folders       []string
	plugins       map[string]*plugin.Plugin
	pluginsByPath map[string]string // file path -> plugin id
	registry      *ManagerRegistry
	lastResult    OperationResult
	logger        *zap.Logger
	load          LoadFunc
	dispatcher    EventDispatcher
	// oldInstance holds a reload's predecessor export-state payload, keyed
	// by plugin id, from the moment the old instance is torn down until
	// postProcess dispatches PLUGIN_LOAD to the new one.
	oldInstance map[string]json.RawMessage
}

// New builds an empty Manager. folders are scanned for plugin files by
// RefreshAll/RefreshChanged.
func New(folders []string, load LoadFunc, logger *zap.Logger) *Manager {
	return &Manager{
		folders:       folders,
		plugins:       make(map[string]*plugin.Plugin),
		pluginsByPath: make(map[string]string),
		registry:      NewManagerRegistry(),
		load:          load,
		logger:        logger,
		oldInstance:   make(map[string]json.RawMessage),
	}
}

// SetDispatcher wires in the PLUGIN_LOAD/PLUGIN_UNLOAD event delivery used
// by postProcess. In production this is the server façade; tests may leave
// it unset, in which case lifecycle events are simply not dispatched.
func (m *Manager) SetDispatcher(d EventDispatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatcher = d
}

// Registry returns the daemon-wide aggregate registry.
func (m *Manager) Registry() *ManagerRegistry { return m.registry }

// Plugins returns every currently loaded plugin.
func (m *Manager) Plugins() []*plugin.Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pluginList()
}

// pluginList snapshots the plugin set in stable id order. Callers must hold
// m.mu.
func (m *Manager) pluginList() []*plugin.Plugin {
	ids := make([]string, 0, len(m.plugins))
	for id := range m.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*plugin.Plugin, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.plugins[id])
	}
	return out
}

// Plugin looks up a loaded plugin by id.
func (m *Manager) Plugin(id string) (*plugin.Plugin, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[id]
	return p, ok
}

func (m *Manager) addPlugin(p *plugin.Plugin) {
	m.plugins[p.ID()] = p
	m.pluginsByPath[p.Path()] = p.ID()
}

func (m *Manager) removePlugin(p *plugin.Plugin) {
	delete(m.plugins, p.ID())
	delete(m.pluginsByPath, p.Path())
}

func (m *Manager) containsPath(path string) bool {
	_, ok := m.pluginsByPath[path]
	return ok
}

// loadOne loads the plugin at path and, on success, registers it. A
// duplicate id unloads and discards the newcomer in favor of the existing
// plugin, matching the original loader's duplicate-id handling.
func (m *Manager) loadOne(ctx context.Context, path string) (*plugin.Plugin, string) {
	p, err := m.load(ctx, path)
	if err != nil {
		m.logger.Error("failed to load plugin", zap.String("path", path), zap.Error(err))
		obs.PluginLoadTotal.WithLabelValues("failure").Inc()
		return nil, err.Error()
	}

	if existing, ok := m.plugins[p.ID()]; ok {
		m.logger.Error("duplicate plugin id, discarding newcomer",
			zap.String("plugin_id", p.ID()),
			zap.String("new_path", path),
			zap.String("existing_path", existing.Path()))
		if err := p.Unload(ctx); err != nil {
			m.logger.Error("failed to unload duplicate plugin", zap.Error(err))
		}
		return nil, fmt.Sprintf("duplicate plugin id %q", p.ID())
	}

	m.logger.Info("loaded plugin", zap.String("plugin_id", p.ID()), zap.String("path", path))
	obs.PluginLoadTotal.WithLabelValues("success").Inc()
	m.addPlugin(p)
	return p, ""
}

// dispatchUnload fires PLUGIN_UNLOAD to p while its subprocess is still
// alive, giving its own on_unload handler a chance to run before teardown.
func (m *Manager) dispatchUnload(ctx context.Context, p *plugin.Plugin) {
	if m.dispatcher == nil || p == nil {
		return
	}
	if err := m.dispatcher.DispatchPluginUnload(ctx, p); err != nil {
		m.logger.Warn("plugin unload event dispatch failed",
			zap.String("plugin_id", p.ID()), zap.Error(err))
	}
}

// unloadOne drops p from tracking and marks it unloading. It deliberately
// dispatches nothing and leaves the subprocess alive: PLUGIN_UNLOAD
// delivery and teardown are centralized in postProcess, so every plugin
// dropped in one operation (directly or through the dependency cascade)
// shares a single reverse-topological dispatch order.
func (m *Manager) unloadOne(p *plugin.Plugin) bool {
	err := p.BeginUnload()
	m.removePlugin(p)
	if err != nil {
		m.logger.Error("illegal plugin state for unload",
			zap.String("plugin_id", p.ID()), zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) reloadOne(ctx context.Context, p *plugin.Plugin) bool {
	exported, err := p.ExportState(ctx)
	if err != nil {
		m.logger.Warn("failed to collect exported state before reload",
			zap.String("plugin_id", p.ID()), zap.Error(err))
	}
	id := p.ID()

	if !m.unloadOne(p) {
		obs.PluginReloadTotal.WithLabelValues("failure").Inc()
		return false
	}
	fresh, reason := m.loadOne(ctx, p.Path())
	if fresh == nil {
		// the old instance stays in the reload failure list; postProcess
		// dispatches its PLUGIN_UNLOAD and tears it down
		m.logger.Error("failed to reload plugin", zap.String("plugin_id", p.ID()), zap.String("reason", reason))
		obs.PluginReloadTotal.WithLabelValues("failure").Inc()
		return false
	}
	// the old instance was superseded, not unloaded in the event sense:
	// tear it down without a PLUGIN_UNLOAD
	if err := p.Unload(ctx); err != nil {
		m.logger.Warn("failed to tear down replaced plugin instance",
			zap.String("plugin_id", id), zap.Error(err))
	}
	if exported != nil {
		m.oldInstance[id] = exported
	}
	obs.PluginReloadTotal.WithLabelValues("success").Inc()
	return true
}

func listPluginFiles(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), PluginFileSuffix) {
			out = append(out, filepath.Join(folder, e.Name()))
		}
	}
	return out, nil
}

// collectAndLoadNew scans every plugin folder for files not already loaded
// and loads each one.
func (m *Manager) collectAndLoadNew(ctx context.Context, specific string) *SingleOperationResult {
	result := NewSingleOperationResult()
	scan := func(folder string) []string {
		if specific != "" {
			return []string{specific}
		}
		files, err := listPluginFiles(folder)
		if err != nil {
			m.logger.Error("failed to scan plugin folder", zap.String("folder", folder), zap.Error(err))
		}
		return files
	}

	folders := m.folders
	if specific != "" {
		folders = []string{filepath.Dir(specific)}
	}
	for _, folder := range folders {
		for _, path := range scan(folder) {
			if m.containsPath(path) {
				continue
			}
			p, reason := m.loadOne(ctx, path)
			if p == nil {
				result.Fail(path, reason)
			} else {
				result.Succeed(p)
			}
		}
	}
	return result
}

// collectAndRemoveMissing drops every plugin whose backing file no longer
// exists on disk.
func (m *Manager) collectAndRemoveMissing() *SingleOperationResult {
	result := NewSingleOperationResult()
	for _, p := range m.pluginList() {
		if _, err := os.Stat(p.Path()); os.IsNotExist(err) {
			result.Record(p, m.unloadOne(p), "file removed")
		}
	}
	return result
}

// reloadReady reloads every StateReady plugin passing filter.
func (m *Manager) reloadReady(ctx context.Context, filter func(*plugin.Plugin) bool) *SingleOperationResult {
	result := NewSingleOperationResult()
	for _, p := range m.pluginList() {
		if p.State() == plugin.StateReady && filter(p) {
			result.Record(p, m.reloadOne(ctx, p), "reload failed")
		}
	}
	return result
}

// checkDependencies walks the dependency graph and drops any plugin whose
// dependencies are missing, unsatisfied, or cyclic. The dropped plugins'
// PLUGIN_UNLOAD dispatch and teardown are postProcess's job, shared with
// the direct unloads of the same operation.
func (m *Manager) checkDependencies() *SingleOperationResult {
	result := NewSingleOperationResult()
	w := NewDependencyWalker(m.plugins)
	items := w.Walk()
	for _, item := range items {
		result.Record(m.plugins[item.PluginID], item.Success, item.Reason)
	}
	for _, item := range items {
		if item.Success {
			continue
		}
		p := m.plugins[item.PluginID]
		if p == nil {
			continue
		}
		m.logger.Error("dropping plugin due to dependency failure",
			zap.String("plugin_id", item.PluginID), zap.String("reason", item.Reason))
		m.unloadOne(p)
	}
	return result
}

// postProcess runs dependency checking, promotes newly-ready plugins,
// delivers both lifecycle events, and rebuilds the aggregate registry.
// Mirrors __post_plugin_process, including its one-place event dispatch:
// nothing earlier in an operation emits PLUGIN_LOAD or PLUGIN_UNLOAD.
func (m *Manager) postProcess(ctx context.Context, load, unload, reload *SingleOperationResult) {
	if load == nil {
		load = NewSingleOperationResult()
	}
	if unload == nil {
		unload = NewSingleOperationResult()
	}
	if reload == nil {
		reload = NewSingleOperationResult()
	}

	depCheck := m.checkDependencies()
	m.lastResult.Record(load, unload, reload, depCheck)

	newlyDone := make(map[string]bool, len(load.SuccessList)+len(reload.SuccessList))
	for _, p := range load.SuccessList {
		newlyDone[p.ID()] = true
	}
	for _, p := range reload.SuccessList {
		newlyDone[p.ID()] = true
	}

	// depCheck.SuccessList is already in dependency-topological order
	// (dependencies before dependants); PLUGIN_LOAD rides that same order
	// so a plugin's dependencies are always READY before it is.
	for _, p := range depCheck.SuccessList {
		if !newlyDone[p.ID()] {
			continue
		}
		if err := p.Ready(ctx); err != nil {
			m.logger.Error("failed to ready plugin", zap.String("plugin_id", p.ID()), zap.Error(err))
			continue
		}
		old := m.oldInstance[p.ID()]
		delete(m.oldInstance, p.ID())
		if m.dispatcher != nil {
			var oldArg any
			if old != nil {
				oldArg = old
			}
			if err := m.dispatcher.DispatchPluginLoad(ctx, p, oldArg); err != nil {
				m.logger.Warn("plugin load event dispatch failed",
					zap.String("plugin_id", p.ID()), zap.Error(err))
			}
		}
	}

	m.finishUnloads(ctx, unload, reload, depCheck, newlyDone)
	m.updateRegistry()
}

// finishUnloads is the single PLUGIN_UNLOAD pass: it gathers every plugin
// dropped anywhere in this operation (direct unloads, failed reloads, and
// the dependency-check cascade), orders them by the reverse topological
// order of the dependency graph as it stood before removal, and for each
// one dispatches PLUGIN_UNLOAD and then tears the subprocess down. Plugins
// newly loaded or reloaded in the same operation are torn down without an
// event; their instance never completed a load/unload cycle of its own.
func (m *Manager) finishUnloads(ctx context.Context, unload, reload, depCheck *SingleOperationResult, newlyDone map[string]bool) {
	removed := make(map[string]*plugin.Plugin)
	for _, list := range [][]*plugin.Plugin{
		unload.SuccessList, unload.FailedList, reload.FailedList, depCheck.FailedList,
	} {
		for _, p := range list {
			if p == nil || p.State() != plugin.StateUnloading {
				continue
			}
			removed[p.ID()] = p
		}
	}
	if len(removed) == 0 {
		return
	}

	// reconstruct the pre-removal graph so the removed plugins order
	// against the survivors and against each other
	all := make(map[string]*plugin.Plugin, len(m.plugins)+len(removed))
	for id, p := range m.plugins {
		all[id] = p
	}
	for id, p := range removed {
		all[id] = p
	}

	items := NewDependencyWalker(all).Walk()
	for i := len(items) - 1; i >= 0; i-- {
		p := removed[items[i].PluginID]
		if p == nil {
			continue
		}
		if !newlyDone[p.ID()] {
			m.dispatchUnload(ctx, p)
		}
		if err := p.Unload(ctx); err != nil {
			m.logger.Error("failed to unload plugin cleanly",
				zap.String("plugin_id", p.ID()), zap.Error(err))
			obs.PluginUnloadTotal.WithLabelValues("failure").Inc()
			continue
		}
		m.logger.Info("unloaded plugin", zap.String("plugin_id", p.ID()))
		obs.PluginUnloadTotal.WithLabelValues("success").Inc()
	}
}

func (m *Manager) updateRegistry() {
	m.registry.Clear()
	for _, p := range m.pluginList() {
		m.registry.Collect(p.Registry())
	}
	m.registry.Arrange()
	obs.PluginsByState.WithLabelValues(plugin.StateReady.String()).Set(float64(len(m.plugins)))
}

// LoadPlugin loads a single plugin file and runs it through dependency
// checking and readying.
func (m *Manager) LoadPlugin(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := m.collectAndLoadNew(ctx, path)
	m.postProcess(ctx, result, nil, nil)
	return result.Err()
}

// UnloadPlugin unloads a single loaded plugin.
func (m *Manager) UnloadPlugin(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plugins[id]
	if !ok {
		return fmt.Errorf("plugin %q not loaded", id)
	}
	result := NewSingleOperationResult()
	result.Record(p, m.unloadOne(p), "requested")
	m.postProcess(ctx, nil, result, nil)
	return result.Err()
}

// ReloadPlugin reloads a single ready plugin.
func (m *Manager) ReloadPlugin(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[id]; !ok {
		return fmt.Errorf("plugin %q not loaded", id)
	}
	result := m.reloadReady(ctx, func(candidate *plugin.Plugin) bool { return candidate.ID() == id })
	m.postProcess(ctx, nil, nil, result)
	return result.Err()
}

// EnablePlugin strips the disabled-file suffix and loads the plugin.
func (m *Manager) EnablePlugin(ctx context.Context, disabledPath string) error {
	if !strings.HasSuffix(disabledPath, DisabledPluginFileSuffix) {
		return fmt.Errorf("%q is not a disabled plugin file", disabledPath)
	}
	newPath := strings.TrimSuffix(disabledPath, DisabledPluginFileSuffix)
	if err := os.Rename(disabledPath, newPath); err != nil {
		return fmt.Errorf("enable plugin: %w", err)
	}
	return m.LoadPlugin(ctx, newPath)
}

// DisablePlugin unloads a plugin and renames its file with the disabled
// suffix so a future refresh won't pick it back up.
func (m *Manager) DisablePlugin(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.plugins[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q not loaded", id)
	}
	if err := m.UnloadPlugin(ctx, id); err != nil {
		return err
	}
	return os.Rename(p.Path(), p.Path()+DisabledPluginFileSuffix)
}

// RefreshAll rescans every plugin folder: loads new files, unloads files
// that vanished, and reloads every ready plugin.
func (m *Manager) RefreshAll(ctx context.Context) error {
	return m.refresh(ctx, func(*plugin.Plugin) bool { return true })
}

// RefreshChanged is like RefreshAll but only reloads plugins whose source
// file has changed since it was loaded. A nil detector means the plugin's
// own size+mtime fingerprint; tests may substitute their own.
func (m *Manager) RefreshChanged(ctx context.Context, changed func(*plugin.Plugin) bool) error {
	if changed == nil {
		changed = (*plugin.Plugin).FileChanged
	}
	return m.refresh(ctx, changed)
}

func (m *Manager) refresh(ctx context.Context, reloadFilter func(*plugin.Plugin) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	load := m.collectAndLoadNew(ctx, "")
	unload := m.collectAndRemoveMissing()
	reload := m.reloadReady(ctx, reloadFilter)
	m.postProcess(ctx, load, unload, reload)

	var err error
	for _, r := range []*SingleOperationResult{load, unload, reload} {
		if e := r.Err(); e != nil {
			err = e
		}
	}
	return err
}

// LastOperationResult returns the outcome of the most recent batch
// operation (load/unload/reload/refresh).
func (m *Manager) LastOperationResult() OperationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// SubprocessLoadFunc builds a LoadFunc that spawns the plugin at path as a
// subprocess, running binary with args prepended to the plugin's own path,
// and waits for its manifest announcement. This is the production wiring;
// tests typically substitute a LoadFunc built from plugin.NewLoaded
// instead, to avoid spawning real processes.
func SubprocessLoadFunc(binary string, args []string, logger *zap.Logger) LoadFunc {
	return func(ctx context.Context, path string) (*plugin.Plugin, error) {
		p := plugin.New(path, logger)
		fullArgs := append(append([]string{}, args...), path)
		if err := p.Load(ctx, binary, fullArgs...); err != nil {
			// a failed handshake can leave the subprocess alive; tear it down
			if uerr := p.Unload(ctx); uerr != nil {
				logger.Warn("failed to clean up half-loaded plugin",
					zap.String("path", path), zap.Error(uerr))
			}
			return nil, err
		}
		return p, nil
	}
}
