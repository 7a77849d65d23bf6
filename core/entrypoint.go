package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/encodeous/overlay/perf"
	"github.com/encodeous/overlay/state"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
)

// ErrShutdown is the cause recorded when a node is stopped by the operator
var ErrShutdown = errors.New("received shutdown signal")

func readConfig[T any](path string) (*T, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg T
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadConfig reads and validates the network and node configuration files
func LoadConfig(centralPath, nodePath string) (*state.CentralCfg, *state.LocalCfg, error) {
	centralCfg, err := readConfig[state.CentralCfg](centralPath)
	if err != nil {
		return nil, nil, err
	}
	nodeCfg, err := readConfig[state.LocalCfg](nodePath)
	if err != nil {
		return nil, nil, err
	}
	if err := state.CentralConfigValidator(centralCfg); err != nil {
		return nil, nil, err
	}
	if err := state.NodeConfigValidator(centralCfg, nodeCfg); err != nil {
		return nil, nil, err
	}
	return centralCfg, nodeCfg, nil
}

// BootstrapNode runs a single node over UDP until it receives SIGINT or SIGTERM. Operator commands are read line by line from commands.
func BootstrapNode(centralPath, nodePath, logPath string, verbose bool, commands io.Reader, out io.Writer) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	centralCfg, nodeCfg, err := LoadConfig(centralPath, nodePath)
	if err != nil {
		return err
	}
	if logPath != "" {
		nodeCfg.LogPath = logPath
	}
	nodeCfg.Timers.ApplyTimers()

	s, err := New(*centralCfg, *nodeCfg, level, nil)
	if err != nil {
		return err
	}
	s.Log.Info("node has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			s.Cancel(ErrShutdown)
		case <-s.Context.Done():
		}
	}()
	if commands != nil {
		go ReadCommands(s, commands, out)
	}
	return Run(s)
}

// ReadCommands executes every line of r as an operator command until r is exhausted or the node stops
func ReadCommands(s *state.State, r io.Reader, out io.Writer) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if s.Context.Err() != nil {
			return
		}
		line := sc.Text()
		res, err := s.DispatchWait(func(s *state.State) (any, error) {
			return Exec(s, line)
		})
		if err != nil {
			s.Log.Error("command failed", "cmd", line, "error", err)
			continue
		}
		if text, ok := res.(string); ok && text != "" && out != nil {
			fmt.Fprintln(out, text)
		}
	}
}

// Start builds a node and runs it until it stops
func Start(ccfg state.CentralCfg, ncfg state.LocalCfg, logLevel slog.Level, aux map[string]any, initState **state.State) error {
	s, err := New(ccfg, ncfg, logLevel, aux)
	if initState != nil {
		*initState = s
	}
	if err != nil {
		return err
	}
	return Run(s)
}

func newLogger(ncfg state.LocalCfg, logLevel slog.Level) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: string(ncfg.Id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if ncfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// New creates the state of a node and initializes its modules. The node does not process events until Run is called.
func New(ccfg state.CentralCfg, ncfg state.LocalCfg, logLevel slog.Level, aux map[string]any) (*state.State, error) {
	logger, err := newLogger(ncfg, logLevel)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	if aux == nil {
		aux = make(map[string]any)
	}

	s := &state.State{
		Modules: make(map[string]state.NyModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: make(chan func(env *state.State) error, 128),
			CentralCfg:      ccfg,
			LocalCfg:        ncfg,
			Log:             logger,
			AuxConfig:       aux,
		},
	}

	s.Log.Debug("init modules")
	if err := initModules(s); err != nil {
		Stop(s)
		return s, err
	}
	s.Log.Debug("init modules complete")
	setupDebugging(s)
	return s, nil
}

func setupDebugging(s *state.State) {
	if s.DebugAddr == "" {
		return
	}
	srv := &http.Server{Addr: s.DebugAddr}
	go func() {
		s.Log.Info("serving debug endpoints", "addr", s.DebugAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Log.Warn("debug server failed", "error", err)
		}
	}()
	go func() {
		<-s.Context.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
}

func initModules(s *state.State) error {
	var modules []state.NyModule
	modules = append(modules, &Trace{})
	modules = append(modules, &Node{})
	modules = append(modules, &LinkStateRouter{})
	modules = append(modules, &Chord{})
	modules = append(modules, &Search{})
	modules = append(modules, &Pinger{})

	// a module may only depend on the modules initialized before it
	for _, module := range modules {
		if err := module.Init(s); err != nil {
			return fmt.Errorf("failed to init %T: %w", module, err)
		}
		s.Modules[reflect.TypeOf(module).String()] = module
	}
	return nil
}

// Run executes the main loop of a node until its context is cancelled
func Run(s *state.State) error {
	MainLoop(s, s.DispatchChannel)
	if err := context.Cause(s.Context); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrShutdown) {
		return err
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > state.SlowDispatchThreshold {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
			Stop(s)
			return
		}
	}
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Debug("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
