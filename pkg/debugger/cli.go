package debugger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/willibrandon/dyno/pkg/recorder"
	"github.com/willibrandon/dyno/pkg/replay"
)

// CLI represents the command-line interface for replaying a journal
type CLI struct {
	replayer  replay.Replayer
	bpManager *BreakpointManager
	out       io.Writer
	running   bool
}

// NewCLI creates a new CLI instance writing to out
func NewCLI(replayer replay.Replayer, out io.Writer) *CLI {
	return &CLI{
		replayer:  replayer,
		bpManager: NewBreakpointManager(),
		out:       out,
	}
}

// Breakpoints returns the CLI's breakpoint manager
func (c *CLI) Breakpoints() *BreakpointManager {
	return c.bpManager
}

// Start runs the command loop until quit or the end of in
func (c *CLI) Start(in io.Reader) error {
	c.running = true
	scanner := bufio.NewScanner(in)

	fmt.Fprintf(c.out, "dyno replay: %d events loaded\n", len(c.replayer.Events()))
	c.printHelp()

	for c.running {
		fmt.Fprint(c.out, "(dyno) ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			break
		}
		c.HandleCommand(scanner.Text())
	}
	return scanner.Err()
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  step (s) [n]      - Step forward n events")
	fmt.Fprintln(c.out, "  back (b) [n]      - Step backward n events")
	fmt.Fprintln(c.out, "  continue (c)      - Replay until a breakpoint or the end")
	fmt.Fprintln(c.out, "  goto (g) <index>  - Jump to the state after an event")
	fmt.Fprintln(c.out, "  info (i)          - Show the current event and live totals")
	fmt.Fprintln(c.out, "  render (r)        - Print the live set as the snapshot file")
	fmt.Fprintln(c.out, "\nBreakpoints:")
	fmt.Fprintln(c.out, "  break (bp) <cond> - Break on size>=N, addr:0xADDR or type:NAME")
	fmt.Fprintln(c.out, "  bp list           - List all breakpoints")
	fmt.Fprintln(c.out, "  bp remove <id>    - Remove a breakpoint")
	fmt.Fprintln(c.out, "  bp enable <id>    - Enable a breakpoint")
	fmt.Fprintln(c.out, "  bp disable <id>   - Disable a breakpoint")
	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)          - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)          - Exit")
}

// HandleCommand processes one line of user input
func (c *CLI) HandleCommand(input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "s", "step":
		c.handleStep(args)
	case "b", "back", "backstep":
		c.handleBack(args)
	case "c", "continue":
		c.handleContinue()
	case "g", "goto":
		c.handleGoto(args)
	case "i", "info":
		c.handleInfo()
	case "r", "render":
		c.out.Write(c.replayer.Render())
	case "bp", "break", "breakpoint":
		c.handleBreakpointCommand(args)
	case "q", "quit", "exit":
		c.running = false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
	}
}

func count(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid count %q", args[0])
	}
	return n, nil
}

// handleStep executes single steps forward
func (c *CLI) handleStep(args []string) {
	n, err := count(args)
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	for i := 0; i < n; i++ {
		if _, err := c.replayer.StepForward(); err != nil {
			if errors.Is(err, replay.ErrAtEnd) {
				fmt.Fprintln(c.out, "Reached the end of the journal")
			} else {
				fmt.Fprintf(c.out, "Error stepping: %v\n", err)
			}
			break
		}
	}
	c.printCurrent()
}

// handleBack steps backward
func (c *CLI) handleBack(args []string) {
	n, err := count(args)
	if err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	for i := 0; i < n; i++ {
		if _, err := c.replayer.StepBackward(); err != nil {
			if errors.Is(err, replay.ErrAtBeginning) {
				fmt.Fprintln(c.out, "Already at the beginning")
			} else {
				fmt.Fprintf(c.out, "Error stepping back: %v\n", err)
			}
			break
		}
	}
	c.printCurrent()
}

// handleContinue resumes replay until an enabled breakpoint matches
func (c *CLI) handleContinue() {
	var hitBp *Breakpoint
	hit, err := c.replayer.ReplayUntilBreakpoint(func(e recorder.Event) bool {
		bp, ok := c.bpManager.CheckBreakpoint(e)
		hitBp = bp
		return ok
	})
	if err != nil {
		fmt.Fprintf(c.out, "Error continuing: %v\n", err)
		return
	}
	if hit {
		fmt.Fprintf(c.out, "Breakpoint %s hit at event %d\n", hitBp, c.replayer.CurrentIndex())
	} else {
		fmt.Fprintln(c.out, "Replay complete")
	}
	c.printCurrent()
}

func (c *CLI) handleGoto(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: goto <index>")
		return
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid index: %v\n", err)
		return
	}
	if err := c.replayer.ReplayToEventIndex(idx); err != nil {
		fmt.Fprintln(c.out, err)
		return
	}
	c.printCurrent()
}

// handleInfo shows the current execution state
func (c *CLI) handleInfo() {
	events := c.replayer.Events()
	idx := c.replayer.CurrentIndex()
	fmt.Fprintf(c.out, "Position: %d of %d events\n", idx+1, len(events))

	live := c.replayer.Live()
	var bytes uint64
	for _, r := range live {
		bytes += r.Size
	}
	fmt.Fprintf(c.out, "Live: %d allocations, %d bytes\n", len(live), bytes)
	if idx >= 0 && idx < len(events) {
		fmt.Fprintf(c.out, "Current event: %s\n", formatEvent(events[idx]))
	}
}

func (c *CLI) printCurrent() {
	events := c.replayer.Events()
	idx := c.replayer.CurrentIndex()
	if idx < 0 || idx >= len(events) {
		fmt.Fprintln(c.out, "At the start of the journal")
		return
	}
	fmt.Fprintf(c.out, "[%d] %s\n", idx, formatEvent(events[idx]))
}

// formatEvent returns a string representation of an event
func formatEvent(e recorder.Event) string {
	if e.Timestamp.IsZero() {
		return e.String()
	}
	return fmt.Sprintf("%s %s", e.Timestamp.Format(time.RFC3339Nano), e.String())
}

// handleBreakpointCommand handles all breakpoint-related commands
func (c *CLI) handleBreakpointCommand(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.out, "Usage: breakpoint <cond> or <command> [args]")
		fmt.Fprintln(c.out, "Commands: list, remove, enable, disable")
		return
	}

	switch args[0] {
	case "list", "ls":
		bps := c.bpManager.GetBreakpoints()
		if len(bps) == 0 {
			fmt.Fprintln(c.out, "No breakpoints")
		}
		for _, bp := range bps {
			fmt.Fprintln(c.out, bp)
		}
	case "remove", "enable", "disable":
		if len(args) < 2 {
			fmt.Fprintf(c.out, "Usage: bp %s <id>\n", args[0])
			return
		}
		id, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(c.out, "Invalid breakpoint ID: %v\n", err)
			return
		}
		var done string
		switch args[0] {
		case "remove":
			err, done = c.bpManager.RemoveBreakpoint(id), "Removed"
		case "enable":
			err, done = c.bpManager.EnableBreakpoint(id), "Enabled"
		case "disable":
			err, done = c.bpManager.DisableBreakpoint(id), "Disabled"
		}
		if err != nil {
			fmt.Fprintln(c.out, err)
			return
		}
		fmt.Fprintf(c.out, "%s breakpoint %d\n", done, id)
	default:
		bp, err := c.bpManager.AddBreakpoint(strings.Join(args, ""))
		if err != nil {
			fmt.Fprintln(c.out, err)
			return
		}
		fmt.Fprintf(c.out, "Breakpoint %s set\n", bp)
	}
}
