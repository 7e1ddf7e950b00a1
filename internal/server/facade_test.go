// Copyright 2025 James Ross
package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
	"github.com/kafuuchino-desu/mcdr-go/internal/pluginmgr"
	"github.com/kafuuchino-desu/mcdr-go/internal/rcon"
	"github.com/kafuuchino-desu/mcdr-go/internal/reactor"
	"github.com/kafuuchino-desu/mcdr-go/internal/semver"
)

type fakeIOPump struct {
	lines []string
}

func (p *fakeIOPump) WriteLine(line string) error {
	p.lines = append(p.lines, line)
	return nil
}

func newTestFacade(t *testing.T) (*Facade, *pluginmgr.Manager, *reactor.Reactor, *fakeIOPump) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	load := func(ctx context.Context, path string) (*plugin.Plugin, error) {
		return plugin.NewLoaded(path, &plugin.MetaData{ID: filepath.Base(path), Version: semver.MustParse("1.0.0")}, logger), nil
	}
	mgr := pluginmgr.New([]string{t.TempDir()}, load, logger)
	r := reactor.New(16, 1, time.Second, logger)
	pump := &fakeIOPump{}
	f := New(mgr, r, rcon.Dummy{}, pump, logger)
	return f, mgr, r, pump
}

func writePluginFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0o644))
	return path
}

func TestAddEventListenerRequiresCurrentPlugin(t *testing.T) {
	f, _, _, _ := newTestFacade(t)
	err := f.AddEventListener(context.Background(), "PLUGIN_LOAD", 1000, func(context.Context, plugin.Event) error { return nil })
	assert.ErrorIs(t, err, ErrIllegalCall)
}

func TestManagementMethodRequiresReactorThread(t *testing.T) {
	f, _, _, _ := newTestFacade(t)
	err := f.LoadPlugin(context.Background(), "somewhere.mcdr")
	assert.ErrorIs(t, err, ErrNotOnReactorThread)
}

func TestManagementMethodSucceedsOnReactorThread(t *testing.T) {
	f, mgr, r, _ := newTestFacade(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	dir := t.TempDir()
	path := writePluginFile(t, dir, "sample.mcdr")

	done := make(chan error, 1)
	require.NoError(t, r.AddInfoTask(func(taskCtx context.Context) {
		done <- f.LoadPlugin(taskCtx, path)
	}))
	require.NoError(t, <-done)

	_, ok := mgr.Plugin("sample.mcdr")
	assert.True(t, ok)
}

func TestDispatchRunsListenersInPriorityOrder(t *testing.T) {
	logger := zaptest.NewLogger(t)
	var order []string
	load := func(ctx context.Context, path string) (*plugin.Plugin, error) {
		p := plugin.NewLoaded(path, &plugin.MetaData{ID: filepath.Base(path), Version: semver.MustParse("1.0.0")}, logger)
		p.Registry().AddEventListener("greet", p.ID(), 2000, func(context.Context, plugin.Event) error {
			order = append(order, "second")
			return nil
		})
		p.Registry().AddEventListener("greet", p.ID(), 1000, func(context.Context, plugin.Event) error {
			order = append(order, "first")
			return nil
		})
		return p, nil
	}
	mgr := pluginmgr.New([]string{t.TempDir()}, load, logger)
	r := reactor.New(16, 1, time.Second, logger)
	f := New(mgr, r, rcon.Dummy{}, &fakeIOPump{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	dir := t.TempDir()
	path := writePluginFile(t, dir, "sample.mcdr")

	loadDone := make(chan error, 1)
	require.NoError(t, r.AddInfoTask(func(taskCtx context.Context) {
		loadDone <- f.LoadPlugin(taskCtx, path)
	}))
	require.NoError(t, <-loadDone)

	dispatchDone := make(chan struct{})
	require.NoError(t, f.reactor.AddInfoTask(func(taskCtx context.Context) {
		f.dispatchSync(taskCtx, plugin.Event{Name: "greet"})
		close(dispatchDone)
	}))
	<-dispatchDone

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestListenerCanRegisterThroughFacade(t *testing.T) {
	logger := zaptest.NewLogger(t)
	// a listener calling back into the façade mid-dispatch: the façade must
	// attribute the registration it makes to the dispatching plugin
	var f *Facade
	var registerErr error
	load := func(ctx context.Context, path string) (*plugin.Plugin, error) {
		p := plugin.NewLoaded(path, &plugin.MetaData{ID: "sample", Version: semver.MustParse("1.0.0")}, logger)
		p.Registry().AddEventListener("greet", p.ID(), 1000, func(lctx context.Context, _ plugin.Event) error {
			registerErr = f.AddHelpMessage(lctx, "!!sample", "sample help")
			return nil
		})
		return p, nil
	}
	mgr := pluginmgr.New([]string{t.TempDir()}, load, logger)
	r := reactor.New(16, 1, time.Second, logger)
	f = New(mgr, r, rcon.Dummy{}, &fakeIOPump{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	dir := t.TempDir()
	path := writePluginFile(t, dir, "sample.mcdr")

	loadDone := make(chan error, 1)
	require.NoError(t, r.AddInfoTask(func(taskCtx context.Context) {
		loadDone <- f.LoadPlugin(taskCtx, path)
	}))
	require.NoError(t, <-loadDone)

	p, ok := mgr.Plugin("sample")
	require.True(t, ok)

	dispatchDone := make(chan struct{})
	require.NoError(t, r.AddInfoTask(func(taskCtx context.Context) {
		f.dispatchSync(taskCtx, plugin.Event{Name: "greet"})
		close(dispatchDone)
	}))
	<-dispatchDone

	require.NoError(t, registerErr)
	msgs := p.Registry().HelpMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sample help", msgs[0].Message)
}

func TestSayWritesThroughIOPump(t *testing.T) {
	f, _, _, pump := newTestFacade(t)
	require.NoError(t, f.Say(PlainText("hello")))
	require.Len(t, pump.lines, 1)
	assert.Contains(t, pump.lines[0], "tellraw @a")
}

func TestHandleInfoDispatchesToInfoListeners(t *testing.T) {
	logger := zaptest.NewLogger(t)
	received := make(chan plugin.Event, 1)
	load := func(ctx context.Context, path string) (*plugin.Plugin, error) {
		p := plugin.NewLoaded(path, &plugin.MetaData{ID: "watcher", Version: semver.MustParse("1.0.0")}, logger)
		p.Registry().AddEventListener(EventInfo, p.ID(), 1000, func(_ context.Context, ev plugin.Event) error {
			received <- ev
			return nil
		})
		return p, nil
	}
	mgr := pluginmgr.New([]string{t.TempDir()}, load, logger)
	r := reactor.New(16, 1, time.Second, logger)
	f := New(mgr, r, rcon.Dummy{}, &fakeIOPump{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	dir := t.TempDir()
	path := writePluginFile(t, dir, "watcher.mcdr")
	loadDone := make(chan error, 1)
	require.NoError(t, r.AddInfoTask(func(taskCtx context.Context) {
		loadDone <- f.LoadPlugin(taskCtx, path)
	}))
	require.NoError(t, <-loadDone)

	require.NoError(t, f.HandleInfo(Info{Origin: OriginPlayer, Player: "Steve", Content: "hello"}))
	ev := <-received
	info, ok := ev.Data.(Info)
	require.True(t, ok)
	assert.Equal(t, "Steve", info.Player)
}

func TestInfoCommandSourceProjection(t *testing.T) {
	info := Info{Origin: OriginPlayer, Player: "Steve", Content: "!!calc 1"}
	src := info.CommandSource(Helper, nil)
	assert.Equal(t, "Steve", src.Name)
	assert.False(t, src.IsConsole())
	assert.True(t, src.HasPermissionLevel(int(User)))
	assert.False(t, src.HasPermissionLevel(int(Owner)))

	console := Info{Origin: OriginConsole, Content: "stop"}
	csrc := console.CommandSource(Owner, nil)
	assert.Equal(t, "console", csrc.Name)
	assert.True(t, csrc.IsConsole())
}

func TestRconQueryReturnsFalseWhenNotRunning(t *testing.T) {
	f, _, _, _ := newTestFacade(t)
	_, ok := f.RconQuery(context.Background(), "list")
	assert.False(t, ok)
}
