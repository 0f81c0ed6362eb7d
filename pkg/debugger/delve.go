package debugger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"
	"github.com/rs/zerolog"

	"github.com/willibrandon/dyno/pkg/heapfile"
	"github.com/willibrandon/dyno/pkg/registry"
)

// Execution states reported in ProgramState.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StateExited  = "exited"
)

// DefaultStackDepth is the number of frames loaded per stop.
const DefaultStackDepth = 32

var loadConfig = api.LoadConfig{
	FollowPointers:     true,
	MaxVariableRecurse: 1,
	MaxStringLen:       64,
	MaxArrayValues:     64,
	MaxStructFields:    -1,
}

// Variable is a local or argument of a stack frame.
type Variable struct {
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Frame is one stack frame of the stopped goroutine.
type Frame struct {
	Function  string     `json:"function" yaml:"function"`
	File      string     `json:"file" yaml:"file"`
	Line      int        `json:"line" yaml:"line"`
	Arguments []Variable `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Locals    []Variable `json:"locals,omitempty" yaml:"locals,omitempty"`
}

// ProgramState pairs where the target is stopped with its heap snapshot.
type ProgramState struct {
	ExecState  string            `json:"exec_state" yaml:"exec_state"`
	ExitStatus int               `json:"exit_status,omitempty" yaml:"exit_status,omitempty"`
	File       string            `json:"file,omitempty" yaml:"file,omitempty"`
	Line       int               `json:"line,omitempty" yaml:"line,omitempty"`
	Function   string            `json:"function,omitempty" yaml:"function,omitempty"`
	Frames     []Frame           `json:"frames,omitempty" yaml:"frames,omitempty"`
	Heap       []registry.Record `json:"heap" yaml:"heap"`
	HeapError  string            `json:"heap_error,omitempty" yaml:"heap_error,omitempty"`
}

// InspectorOptions configures Launch.
type InspectorOptions struct {
	// Dlv is the delve executable. Defaults to "dlv" on PATH.
	Dlv string
	// Args are passed to the target.
	Args []string
	// WorkDir is the target's working directory. Defaults to the current one.
	WorkDir string
	// MemFile is the target's snapshot file, relative to WorkDir.
	MemFile string
	// StackDepth bounds the frames loaded per stop.
	StackDepth int
	// Logger receives diagnostics. Nil discards them.
	Logger *zerolog.Logger
}

// Inspector drives a target under a headless Delve server
type Inspector struct {
	client    *rpc2.RPCClient
	target    string
	dlvCmd    *exec.Cmd
	dlvListen string
	memFile   string
	depth     int
	log       zerolog.Logger
}

// findFreePort finds an available TCP port on localhost
func findFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Launch starts target under dlv exec --headless and connects to it. The
// target is halted at its entry point until Continue or Next.
func Launch(ctx context.Context, target string, opts InspectorOptions) (*Inspector, error) {
	absPath, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("debugger: resolve target %s: %w", target, err)
	}
	if opts.Dlv == "" {
		opts.Dlv = "dlv"
	}
	if opts.MemFile == "" {
		opts.MemFile = heapfile.DefaultPath
	}
	if opts.StackDepth <= 0 {
		opts.StackDepth = DefaultStackDepth
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	wd := opts.WorkDir
	if wd == "" {
		if wd, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	port, err := findFreePort()
	if err != nil {
		return nil, fmt.Errorf("debugger: find free port for delve: %w", err)
	}
	listen := "localhost:" + strconv.Itoa(port)

	cmdArgs := []string{
		"exec", absPath,
		"--headless",
		"--listen=" + listen,
		"--api-version=2",
		"--accept-multiclient",
		"--wd=" + wd,
	}
	if len(opts.Args) > 0 {
		cmdArgs = append(cmdArgs, "--")
		cmdArgs = append(cmdArgs, opts.Args...)
	}

	dlvCmd := exec.Command(opts.Dlv, cmdArgs...)
	setupProcAttr(dlvCmd)
	if err := dlvCmd.Start(); err != nil {
		return nil, fmt.Errorf("debugger: start delve: %w", err)
	}
	log.Debug().Str("target", absPath).Str("listen", listen).Int("pid", dlvCmd.Process.Pid).Msg("started delve")

	// rpc2.NewClient exits the process if it cannot dial, so wait for the
	// listener first.
	if err := waitForListener(ctx, listen); err != nil {
		_ = dlvCmd.Process.Kill()
		_, _ = dlvCmd.Process.Wait()
		return nil, fmt.Errorf("debugger: delve server at %s: %w", listen, err)
	}

	client := rpc2.NewClient(listen)
	if _, err := client.GetState(); err != nil {
		_ = dlvCmd.Process.Kill()
		_, _ = dlvCmd.Process.Wait()
		return nil, fmt.Errorf("debugger: connect to delve at %s: %w", listen, err)
	}

	memFile := opts.MemFile
	if !filepath.IsAbs(memFile) {
		memFile = filepath.Join(wd, memFile)
	}

	return &Inspector{
		client:    client,
		target:    absPath,
		dlvCmd:    dlvCmd,
		dlvListen: listen,
		memFile:   memFile,
		depth:     opts.StackDepth,
		log:       log,
	}, nil
}

func waitForListener(ctx context.Context, addr string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			return conn.Close()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SetFunctionBreakpoint sets a breakpoint at a function
func (d *Inspector) SetFunctionBreakpoint(funcName string) (*api.Breakpoint, error) {
	bp, err := d.client.CreateBreakpoint(&api.Breakpoint{FunctionName: funcName})
	if err != nil {
		return nil, fmt.Errorf("debugger: breakpoint at %s: %w", funcName, err)
	}
	return bp, nil
}

// Continue resumes the target until the next breakpoint or exit
func (d *Inspector) Continue() (*ProgramState, error) {
	state := <-d.client.Continue()
	if state == nil {
		return nil, errors.New("debugger: continue returned no state")
	}
	// An exit is reported with Err set as well.
	if state.Err != nil && !state.Exited {
		return nil, state.Err
	}
	return d.programState(state)
}

// Next steps over one source line
func (d *Inspector) Next() (*ProgramState, error) {
	state, err := d.client.Next()
	if err != nil {
		return nil, fmt.Errorf("debugger: next: %w", err)
	}
	if state.Err != nil && !state.Exited {
		return nil, state.Err
	}
	return d.programState(state)
}

// State returns the current program state without resuming
func (d *Inspector) State() (*ProgramState, error) {
	state, err := d.client.GetState()
	if err != nil {
		return nil, fmt.Errorf("debugger: get state: %w", err)
	}
	return d.programState(state)
}

func (d *Inspector) programState(state *api.DebuggerState) (*ProgramState, error) {
	ps := &ProgramState{ExecState: execState(state)}

	if state.Exited {
		ps.ExitStatus = state.ExitStatus
	} else if th := state.CurrentThread; th != nil {
		ps.File = th.File
		ps.Line = th.Line
		if th.Function != nil {
			ps.Function = th.Function.Name()
		}
		frames, err := d.client.Stacktrace(th.GoroutineID, d.depth, 0, &loadConfig)
		if err != nil {
			d.log.Warn().Err(err).Int64("goroutine", th.GoroutineID).Msg("stacktrace failed")
		} else {
			ps.Frames = convertFrames(frames)
		}
	}

	ps.Heap, ps.HeapError = readHeap(d.memFile)
	return ps, nil
}

// Close terminates the connection and the Delve process
func (d *Inspector) Close() error {
	var errs []error
	if d.client != nil {
		if err := d.client.Detach(true); err != nil {
			d.log.Debug().Err(err).Msg("detach from delve")
		}
		d.client = nil
	}
	if d.dlvCmd != nil && d.dlvCmd.Process != nil {
		pid := d.dlvCmd.Process.Pid
		if err := d.dlvCmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, fmt.Errorf("debugger: kill delve process %d: %w", pid, err))
		}
		_, _ = d.dlvCmd.Process.Wait()
		d.log.Debug().Int("pid", pid).Msg("delve terminated")
		d.dlvCmd = nil
	}
	return errors.Join(errs...)
}

// MemFile returns the snapshot file read at each stop.
func (d *Inspector) MemFile() string {
	return d.memFile
}

func execState(state *api.DebuggerState) string {
	switch {
	case state.Exited:
		return StateExited
	case state.Running:
		return StateRunning
	}
	return StateStopped
}

func convertFrames(frames []api.Stackframe) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		fr := Frame{
			File:      f.File,
			Line:      f.Line,
			Arguments: convertVariables(f.Arguments),
			Locals:    convertVariables(f.Locals),
		}
		if f.Function != nil {
			fr.Function = f.Function.Name()
		}
		out = append(out, fr)
	}
	return out
}

func convertVariables(vars []api.Variable) []Variable {
	if len(vars) == 0 {
		return nil
	}
	out := make([]Variable, len(vars))
	for i, v := range vars {
		out[i] = Variable{Name: v.Name, Type: v.Type, Value: v.Value}
	}
	return out
}

// readHeap reads the snapshot file. A target that has not started tracking
// yet has no file, which is an empty heap rather than an error.
func readHeap(path string) ([]registry.Record, string) {
	recs, err := heapfile.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []registry.Record{}, ""
	}
	if err != nil {
		return []registry.Record{}, err.Error()
	}
	return recs, ""
}
