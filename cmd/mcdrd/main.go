// Copyright 2025 James Ross
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/kafuuchino-desu/mcdr-go/internal/command"
	"github.com/kafuuchino-desu/mcdr-go/internal/config"
	"github.com/kafuuchino-desu/mcdr-go/internal/obs"
	"github.com/kafuuchino-desu/mcdr-go/internal/plugin"
	"github.com/kafuuchino-desu/mcdr-go/internal/pluginmgr"
	"github.com/kafuuchino-desu/mcdr-go/internal/rcon"
	"github.com/kafuuchino-desu/mcdr-go/internal/reactor"
	"github.com/kafuuchino-desu/mcdr-go/internal/server"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "mcdrd",
	Short:   "Plugin supervisor daemon that wraps a game server child process",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/mcdrd.yaml", "path to the daemon's YAML config")
	rootCmd.AddCommand(pluginCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon's version and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Inspect or manage loaded plugins via a one-shot daemon run",
}

func init() {
	pluginCmd.AddCommand(pluginListCmd, pluginReloadCmd)
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "Load every configured plugin once and print its state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBootstrap(cmd.Context(), func(ctx context.Context, d *daemon) error {
			return d.facade.RefreshAll(ctx)
		}, func(d *daemon) {
			for _, p := range d.mgr.Plugins() {
				fmt.Printf("%s\t%s\t%s\n", p.ID(), p.MetaData().Version, p.State())
			}
		})
	},
}

var pluginReloadCmd = &cobra.Command{
	Use:   "reload [plugin-id]",
	Short: "Load every plugin once, then reload the named plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withBootstrap(cmd.Context(), func(ctx context.Context, d *daemon) error {
			if err := d.facade.RefreshAll(ctx); err != nil {
				return err
			}
			return d.facade.ReloadPlugin(ctx, id)
		}, func(d *daemon) {
			fmt.Printf("reloaded %s\n", id)
		})
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// daemon bundles the long-lived collaborators every entrypoint (the
// background run loop, and the one-shot admin subcommands) is built from.
type daemon struct {
	cfg     *config.Config
	logger  *zap.Logger
	mgr     *pluginmgr.Manager
	reactor *reactor.Reactor
	facade  *server.Facade
	rcon    rcon.Manager
	pump    *processIOPump
}

func buildDaemon(ctx context.Context) (*daemon, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, syncLogger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	pump, stopPump, err := newProcessIOPump(cfg, logger)
	if err != nil {
		syncLogger()
		return nil, nil, fmt.Errorf("start child process: %w", err)
	}

	var rconMgr rcon.Manager = rcon.Dummy{}
	if cfg.RCON.Enabled {
		rconMgr = rcon.NewNetManager(cfg.RCON.Address, cfg.RCON.Password, cfg.RCON.ConnectTimeout, cfg.RCON.ReconnectWindow, logger)
	}

	subprocessLoad := pluginmgr.SubprocessLoadFunc(cfg.Plugin.Binary, cfg.Plugin.BinaryArgs, logger)
	load := func(ctx context.Context, path string) (*plugin.Plugin, error) {
		ctx, cancel := context.WithTimeout(ctx, cfg.Plugin.LoadTimeout)
		defer cancel()
		return subprocessLoad(ctx, path)
	}
	mgr := pluginmgr.New(cfg.Plugin.Folders, load, logger)
	r := reactor.New(cfg.Reactor.QueueSize, cfg.Reactor.WorkerCount, cfg.Reactor.QueueFullWarnPeriod, logger)
	facade := server.New(mgr, r, rconMgr, pump, logger)

	pump.SetInfoHandler(func(line string) {
		// queue-full is back-pressure, already rate-limit-logged by the
		// reactor; the line is simply dropped
		_ = facade.HandleInfo(server.Info{Origin: server.OriginConsole, Content: line})
	})

	cleanup := func() {
		stopPump()
		syncLogger()
	}

	return &daemon{cfg: cfg, logger: logger, mgr: mgr, reactor: r, facade: facade, rcon: rconMgr, pump: pump}, cleanup, nil
}

// withBootstrap runs the background helper goroutines needed for a
// reactor-worker call (the reactor loop itself), executes body with a
// freshly built daemon, prints result via report, and tears everything
// down. Used by the one-shot plugin subcommands so LoadPlugin/ReloadPlugin
// still run on a real reactor worker the way the running daemon does.
func withBootstrap(ctx context.Context, body func(context.Context, *daemon) error, report func(*daemon)) error {
	d, cleanup, err := buildDaemon(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.reactor.Run(runCtx) }()

	done := make(chan error, 1)
	if err := d.reactor.AddInfoTask(func(taskCtx context.Context) {
		done <- body(taskCtx, d)
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for plugin operation")
	}

	report(d)
	return nil
}

func runDaemon(ctx context.Context) error {
	d, cleanup, err := buildDaemon(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	httpSrv := obs.StartHTTPServer(d.cfg, func(context.Context) error {
		if d.reactor.QueueLen() >= d.cfg.Reactor.QueueSize {
			return fmt.Errorf("reactor queue saturated")
		}
		return nil
	})
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		d.logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			d.logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(d.cfg.Reactor.ShutdownDrain):
		}
	}()

	reactorDone := make(chan error, 1)
	// the reactor runs on the parent ctx, not runCtx, so its workers are
	// still alive to drain the queue when Shutdown is called below
	go func() { reactorDone <- d.reactor.Run(ctx) }()

	if err := d.reactor.AddInfoTask(func(taskCtx context.Context) {
		if err := d.facade.RefreshAll(taskCtx); err != nil {
			d.logger.Error("initial plugin load failed", obs.Err(err))
		}
	}); err != nil {
		d.logger.Error("failed to enqueue initial plugin load", obs.Err(err))
	}

	var hotReloader *pluginmgr.HotReloader
	if d.cfg.Plugin.HotReload {
		hotReloader, err = pluginmgr.NewHotReloader(d.mgr, d.cfg.Plugin.ReloadDebounce, d.logger)
		if err != nil {
			d.logger.Warn("hot reload disabled: failed to start watcher", obs.Err(err))
		} else {
			go func() {
				if err := hotReloader.Run(runCtx); err != nil && err != context.Canceled {
					d.logger.Warn("hot reload watcher stopped", obs.Err(err))
				}
			}()
		}
	}

	d.pump.runConsole(runCtx, d)

	d.reactor.Shutdown(d.cfg.Reactor.ShutdownDrain)
	<-reactorDone
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	if cfg.Observability.LogFile == "" {
		logger, err := obs.NewLogger(cfg.Observability.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		return logger, func() { _ = logger.Sync() }, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Observability.LogFile,
		MaxSize:    cfg.Observability.LogMaxSizeMB,
		MaxBackups: cfg.Observability.LogMaxBackups,
		MaxAge:     cfg.Observability.LogMaxAgeDays,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), levelFor(cfg.Observability.LogLevel))
	logger := zap.New(core)
	return logger, func() { _ = logger.Sync(); _ = rotator.Close() }, nil
}

func levelFor(level string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// processIOPump spawns the configured game server child process (when one
// is configured) and pumps lines to its standard input. Its stdout is not
// parsed into structured events: the line framing and encoding of the
// child server's own wire format are an external collaborator, per scope.
// With no server command configured it logs lines instead, so admin
// subcommands and local testing work without a child process attached.
type processIOPump struct {
	logger *zap.Logger
	cmd    *exec.Cmd
	stdin  io.WriteCloser

	mu     sync.Mutex
	onLine func(string)
}

// SetInfoHandler installs the callback invoked for every line of child
// process output. Installed after construction because the façade the
// handler forwards to needs the pump first.
func (p *processIOPump) SetInfoHandler(fn func(string)) {
	p.mu.Lock()
	p.onLine = fn
	p.mu.Unlock()
}

func (p *processIOPump) handleLine(line string) {
	p.mu.Lock()
	fn := p.onLine
	p.mu.Unlock()
	if fn != nil {
		fn(line)
	}
}

func newProcessIOPump(cfg *config.Config, logger *zap.Logger) (*processIOPump, func(), error) {
	if cfg.Server.Command == "" {
		pump := &processIOPump{logger: logger}
		return pump, func() {}, nil
	}

	cmd := exec.Command(cfg.Server.Command, cfg.Server.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("open child stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("open child stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start child process: %w", err)
	}

	pump := &processIOPump{logger: logger, cmd: cmd, stdin: stdin}
	go pump.pumpOutput(stdout)

	stop := func() {
		_ = stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Signal(syscall.SIGTERM)
		}
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}
	return pump, stop, nil
}

func (p *processIOPump) pumpOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug("child process output", obs.String("line", line))
		p.handleLine(line)
	}
}

// WriteLine implements server.IOPump.
func (p *processIOPump) WriteLine(line string) error {
	if p.stdin == nil {
		p.logger.Info("child process output (no server command configured)", obs.String("line", line))
		return nil
	}
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

// runConsole reads admin command lines from the daemon's own standard
// input and dispatches each through the command tree, the console acting
// as an OWNER-level command source. Blocks until ctx is cancelled or stdin
// is closed.
func (p *processIOPump) runConsole(ctx context.Context, d *daemon) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	source := &server.Source{
		Origin:     server.OriginConsole,
		Name:       "console",
		Permission: server.Owner,
		ReplyFn: func(message string) error {
			fmt.Println(message)
			return nil
		},
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			p.dispatchConsoleLine(d, source, line)
		}
	}
}

// dispatchConsoleLine tries each registered command root in turn, moving on
// to the next root only when this one's literal didn't match the line's
// first word at all (KindUnknownRootArgument). Any other outcome, success
// or a real syntax/permission error, belongs to that root and is reported.
func (p *processIOPump) dispatchConsoleLine(d *daemon, source command.CommandSource, line string) {
	roots := d.mgr.Registry().Commands()
	for _, reg := range roots {
		err := command.Execute(reg.Root, source, line)
		if err == nil {
			obs.CommandsDispatched.WithLabelValues("ok").Inc()
			return
		}
		if syntaxErr, ok := err.(*command.SyntaxError); ok && syntaxErr.Kind == command.KindUnknownRootArgument {
			continue
		}
		obs.CommandsDispatched.WithLabelValues("error").Inc()
		_ = source.Reply(err.Error())
		return
	}
	if len(roots) > 0 {
		obs.CommandsDispatched.WithLabelValues("unknown").Inc()
		_ = source.Reply(fmt.Sprintf("Unknown command: %s", line))
	}
}
