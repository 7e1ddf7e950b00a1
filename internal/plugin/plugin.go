package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotRunning is returned by operations that require a live subprocess
// when the plugin hasn't been loaded yet, or has already been unloaded.
var ErrNotRunning = fmt.Errorf("plugin subprocess is not running")

// Plugin is one loaded plugin: its metadata, lifecycle state, the
// registrations it has made (commands, listeners, help text), and the
// subprocess backing its execution.
type Plugin struct {
	mu       sync.Mutex
	path     string
	fileName string
	state    State
	meta     *MetaData
	registry *Registry
	logger   *zap.Logger

	// file fingerprint captured at load time, for FileChanged
	loadedSize  int64
	loadedMtime time.Time

	cmd       *exec.Cmd
	transport *Transport
}

// New builds a Plugin for the plugin file or directory at path. It does not
// start anything; call Load to spawn the subprocess.
func New(path string, logger *zap.Logger) *Plugin {
	return &Plugin{
		path:     path,
		fileName: filepath.Base(path),
		state:    StateUninitialized,
		registry: NewRegistry(),
		logger:   logger,
	}
}

// NewLoaded builds a Plugin already holding meta and sitting in
// StateLoaded, bypassing subprocess spawn. Used by tests (and the fake
// LoadFuncs they build) that need a plugin whose metadata is already known.
func NewLoaded(path string, meta *MetaData, logger *zap.Logger) *Plugin {
	p := New(path, logger)
	p.meta = meta
	p.state = StateLoaded
	p.recordFingerprint()
	return p
}

// recordFingerprint captures the backing file's cheap stable fingerprint
// (size + mtime) so FileChanged can tell whether the source on disk has
// moved on since this instance loaded.
func (p *Plugin) recordFingerprint() {
	info, err := os.Stat(p.path)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.loadedSize = info.Size()
	p.loadedMtime = info.ModTime()
	p.mu.Unlock()
}

// FileChanged reports whether the plugin's backing file differs from what
// was loaded. A missing file or an instance that never captured a
// fingerprint reports false; vanished files are the remove pass's concern,
// not the reload pass's.
func (p *Plugin) FileChanged() bool {
	info, err := os.Stat(p.path)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadedMtime.IsZero() {
		return false
	}
	return info.Size() != p.loadedSize || info.ModTime().After(p.loadedMtime)
}

// ID returns the plugin's id, empty until Load completes.
func (p *Plugin) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meta == nil {
		return ""
	}
	return p.meta.ID
}

// State returns the plugin's current lifecycle stage.
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// MetaData returns the plugin's parsed manifest, nil until Load completes.
func (p *Plugin) MetaData() *MetaData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meta
}

// Registry returns the accumulated registrations this plugin has made.
func (p *Plugin) Registry() *Registry {
	return p.registry
}

// Path returns the plugin's source path on disk.
func (p *Plugin) Path() string { return p.path }

func (p *Plugin) transition(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !CanTransition(p.state, to) {
		return &IllegalTransitionError{From: p.state, To: to}
	}
	p.state = to
	return nil
}

// announceTimeout bounds how long Load waits for the subprocess to send
// its initial manifest announcement before giving up on it.
const announceTimeout = 10 * time.Second

// Load spawns the plugin subprocess and blocks until it announces its
// manifest, or announceTimeout elapses. On success the plugin moves to
// StateLoaded; on failure it moves to StateUnloading (mirroring the
// original's "a half-initialized plugin still tears down" behavior) and the
// caller is expected to call Unload to finish cleanup.
func (p *Plugin) Load(ctx context.Context, binary string, args ...string) error {
	if err := p.transition(StateLoading); err != nil {
		return err
	}
	p.recordFingerprint()

	cmd := exec.CommandContext(ctx, binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.failLoad()
		return fmt.Errorf("open plugin stdout: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.failLoad()
		return fmt.Errorf("open plugin stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.failLoad()
		return fmt.Errorf("open plugin stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		p.failLoad()
		return fmt.Errorf("start plugin subprocess: %w", err)
	}
	go p.pumpErrors(stderr)

	p.mu.Lock()
	p.cmd = cmd
	p.transport = NewTransport(stdout, stdin)
	p.mu.Unlock()

	if err := p.performHandshake(ctx); err != nil {
		p.failLoad()
		return err
	}

	return p.transition(StateLoaded)
}

// performHandshake drives the load-time half of the RPC protocol: the
// subprocess announces its manifest, streams its module-level registrations
// (listeners, command trees, help lines), and closes the handshake with an
// ack frame. After the ack the daemon owns the transport's read side only
// for correlated request/response exchanges (export_state).
func (p *Plugin) performHandshake(ctx context.Context) error {
	msg, err := p.awaitAnnounce(ctx)
	if err != nil {
		return err
	}

	var announce AnnouncePayload
	if err := json.Unmarshal(msg.Payload, &announce); err != nil {
		return fmt.Errorf("decode plugin announcement: %w", err)
	}

	manifest := announce.Manifest
	if sidecar, ok, err := ReadSidecarManifest(p.path); err != nil {
		p.logger.Warn("ignoring unreadable plugin manifest",
			zap.String("plugin_path", p.path), zap.Error(err))
	} else if ok {
		manifest = mergeManifests(sidecar, announce.Manifest)
	}

	p.mu.Lock()
	p.meta = NewMetaData(manifest, p.fileName, p.logger)
	p.mu.Unlock()

	return p.consumeRegistrations(ctx)
}

// consumeRegistrations reads register_* frames into the plugin's Registry
// until the subprocess sends the handshake-closing ack.
func (p *Plugin) consumeRegistrations(ctx context.Context) error {
	deadline := time.After(announceTimeout)
	for {
		type result struct {
			msg Message
			err error
		}
		ch := make(chan result, 1)
		go func() {
			msg, err := p.transport.ReadMessage()
			ch <- result{msg, err}
		}()

		var msg Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timed out waiting for plugin registrations")
		case r := <-ch:
			if r.err != nil {
				return fmt.Errorf("await plugin registration: %w", r.err)
			}
			msg = r.msg
		}

		switch msg.Type {
		case MsgAck:
			return nil
		case MsgRegisterListener:
			if err := p.registerListener(msg.Payload); err != nil {
				return err
			}
		case MsgRegisterCommand:
			if err := p.registerCommand(msg.Payload); err != nil {
				return err
			}
		case MsgRegisterHelp:
			if err := p.registerHelp(msg.Payload); err != nil {
				return err
			}
		case MsgError:
			var ep ErrorPayload
			_ = json.Unmarshal(msg.Payload, &ep)
			return fmt.Errorf("plugin reported load failure: %s", ep.Message)
		default:
			return fmt.Errorf("unexpected %q frame during load handshake", msg.Type)
		}
	}
}

func (p *Plugin) registerListener(payload json.RawMessage) error {
	var reg ListenerRegistration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return fmt.Errorf("decode listener registration: %w", err)
	}
	if reg.Event == "" {
		return fmt.Errorf("listener registration is missing an event name")
	}
	priority := DefaultListenerPriority
	if reg.Priority != nil {
		priority = *reg.Priority
	}
	p.registry.AddEventListener(reg.Event, p.ID(), priority, func(ctx context.Context, event Event) error {
		return p.DispatchEvent(event)
	})
	return nil
}

func (p *Plugin) registerCommand(payload json.RawMessage) error {
	var spec CommandSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return fmt.Errorf("decode command registration: %w", err)
	}
	root, err := p.buildCommandTree(spec)
	if err != nil {
		return fmt.Errorf("build registered command tree: %w", err)
	}
	p.registry.AddCommand(p.ID(), root)
	return nil
}

func (p *Plugin) registerHelp(payload json.RawMessage) error {
	var reg HelpRegistration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return fmt.Errorf("decode help registration: %w", err)
	}
	p.registry.AddHelpMessage(p.ID(), reg.Prefix, reg.Message)
	return nil
}

func (p *Plugin) failLoad() {
	p.mu.Lock()
	p.state = StateUnloading
	p.mu.Unlock()
}

func (p *Plugin) awaitAnnounce(ctx context.Context) (Message, error) {
	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := p.transport.ReadMessage()
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-time.After(announceTimeout):
		return Message{}, fmt.Errorf("timed out waiting for plugin announcement")
	case r := <-ch:
		if r.err != nil {
			return Message{}, fmt.Errorf("await plugin announcement: %w", r.err)
		}
		if r.msg.Type != MsgAnnounce {
			return Message{}, fmt.Errorf("expected announce message, got %q", r.msg.Type)
		}
		return r.msg, nil
	}
}

// Ready moves a Loaded plugin to Ready and tells the subprocess it may
// begin handling dispatched events. A plugin with no live transport (tests,
// or one constructed via NewLoaded) still transitions; there is simply no
// subprocess to notify.
func (p *Plugin) Ready(ctx context.Context) error {
	if err := p.transition(StateReady); err != nil {
		return err
	}
	if _, err := p.sendLocked(MsgLoad, struct{}{}); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// DispatchEvent forwards event to the subprocess. Returns ErrNotRunning
// unless the plugin is Ready or Unloading; the Unloading window is where
// its own PLUGIN_UNLOAD is delivered, after the manager has dropped the
// plugin from tracking but before the subprocess is torn down.
func (p *Plugin) DispatchEvent(event Event) error {
	p.mu.Lock()
	running := p.state == StateReady || p.state == StateUnloading
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	_, err := p.sendLocked(MsgDispatchEvent, event)
	return err
}

// BeginUnload moves the plugin into StateUnloading without touching the
// subprocess, so PLUGIN_UNLOAD can still be delivered to it. Unload
// finishes the job. Already-unloading plugins are left as they are.
func (p *Plugin) BeginUnload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateUnloading {
		return nil
	}
	if !CanTransition(p.state, StateUnloading) {
		return &IllegalTransitionError{From: p.state, To: StateUnloading}
	}
	p.state = StateUnloading
	return nil
}

func (p *Plugin) sendLocked(msgType MessageType, payload any) (int64, error) {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()
	if t == nil {
		return 0, ErrNotRunning
	}
	return t.Send(msgType, payload)
}

// ExportState asks a still-running subprocess for a snapshot of whatever
// state it wants carried forward into its successor's PLUGIN_LOAD handler
// across a reload. Returns a nil payload, not an error, when the plugin
// isn't running or declines to export anything.
func (p *Plugin) ExportState(ctx context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	t := p.transport
	running := p.state == StateReady
	p.mu.Unlock()
	if !running || t == nil {
		return nil, nil
	}
	if _, err := t.Send(MsgExportState, struct{}{}); err != nil {
		return nil, fmt.Errorf("request exported state: %w", err)
	}

	type result struct {
		msg Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := t.ReadMessage()
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(announceTimeout):
		return nil, fmt.Errorf("timed out waiting for exported state")
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("await exported state: %w", r.err)
		}
		if r.msg.Type != MsgExportState {
			return nil, nil
		}
		return r.msg.Payload, nil
	}
}

// Unload tells the subprocess to shut down, waits for it to exit, and
// moves the plugin to StateUnloaded. It is legal to call Unload from
// StateLoading, StateLoaded or StateReady, matching every legal predecessor
// of StateUnloading.
func (p *Plugin) Unload(ctx context.Context) error {
	p.mu.Lock()
	cur := p.state
	p.mu.Unlock()
	if cur != StateUnloading {
		if err := p.transition(StateUnloading); err != nil {
			return err
		}
	}

	p.mu.Lock()
	t := p.transport
	cmd := p.cmd
	p.mu.Unlock()

	if t != nil {
		_, _ = t.Send(MsgUnload, struct{}{})
	}
	if cmd != nil && cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-done
		}
	}

	return p.transition(StateUnloaded)
}

// pumpErrors drains the subprocess's stderr into the daemon logger until it
// closes, so plugin panics and stray prints surface in daemon logs instead
// of vanishing.
func (p *Plugin) pumpErrors(stderr io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			p.logger.Warn("plugin stderr", zap.String("plugin_path", p.path), zap.ByteString("line", buf[:n]))
		}
		if err != nil {
			return
		}
	}
}
