package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"mapsync/internal/application/canvas"
	"mapsync/internal/application/dto"
	"mapsync/internal/application/session"
	"mapsync/internal/domain/aggregates"
	"mapsync/internal/domain/valueobjects"
)

var errQuit = errors.New("quit")

var replHelp = map[string]string{
	"add":     "add <x> <y> [text]     create a node at x,y",
	"edit":    "edit <id> <text>       replace a node's text",
	"color":   "color <id|selected> <color>",
	"move":    "move <id> <x> <y>      drag a node",
	"resize":  "resize <id> <w> <h>",
	"connect": "connect <source> <target>",
	"select":  "select [ids...]        select nodes and edges; no ids clears",
	"delete":  "delete                 delete the selection",
	"nodes":   "nodes                  list nodes",
	"edges":   "edges                  list edges",
	"status":  "status                 show save state",
	"flush":   "flush                  write pending changes now",
	"reload":  "reload                 reload from the store",
	"quit":    "quit                   flush and leave",
}

// REPL drives one open session through the canvas controller
type REPL struct {
	session      *session.Session
	canvas       *canvas.Controller
	out          io.Writer
	flushTimeout time.Duration
}

// NewREPL creates a REPL over an open session
func NewREPL(sess *session.Session, out io.Writer, flushTimeout time.Duration) *REPL {
	return &REPL{
		session:      sess,
		canvas:       canvas.NewController(sess.Graph()),
		out:          out,
		flushTimeout: flushTimeout,
	}
}

// splitArgs splits a line on spaces, keeping double-quoted text together
func splitArgs(line string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, ch := range line {
		switch {
		case ch == '"':
			quoted = !quoted
			started = true
		case ch == ' ' && !quoted:
			if started {
				args = append(args, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(ch)
			started = true
		}
	}
	if started {
		args = append(args, current.String())
	}
	return args
}

func parsePosition(x, y string) (valueobjects.Position, error) {
	fx, err := strconv.ParseFloat(x, 64)
	if err != nil {
		return valueobjects.Position{}, fmt.Errorf("invalid x %q", x)
	}
	fy, err := strconv.ParseFloat(y, 64)
	if err != nil {
		return valueobjects.Position{}, fmt.Errorf("invalid y %q", y)
	}
	return valueobjects.NewPosition(fx, fy)
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// Exec runs one command line. It returns errQuit when the user asks to leave.
func (r *REPL) Exec(ctx context.Context, line string) error {
	args := splitArgs(strings.TrimSpace(line))
	if len(args) == 0 {
		return nil
	}
	graph := r.session.Graph()
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "add":
		if err := need(args, 2, replHelp["add"]); err != nil {
			return err
		}
		pos, err := parsePosition(args[0], args[1])
		if err != nil {
			return err
		}
		node := r.canvas.DoubleClickPane(pos)
		if len(args) > 2 {
			graph.UpdateNodeContent(node.ID, strings.Join(args[2:], " "))
		}
		Good.Fprintf(r.out, "Added %s\n", node.ID)

	case "edit":
		if err := need(args, 2, replHelp["edit"]); err != nil {
			return err
		}
		if !r.canvas.NodeDoubleClick(args[0]) {
			return fmt.Errorf("no node %s", args[0])
		}
		r.canvas.EditInput(strings.Join(args[1:], " "))
		r.canvas.EditCommit()

	case "color":
		if err := need(args, 2, replHelp["color"]); err != nil {
			return err
		}
		if args[0] == "selected" {
			n := r.canvas.ApplyColor(args[1])
			Good.Fprintf(r.out, "Recolored %d node(s)\n", n)
			return nil
		}
		if !graph.UpdateNodeColor(args[0], args[1]) {
			return fmt.Errorf("no node %s", args[0])
		}

	case "move":
		if err := need(args, 3, replHelp["move"]); err != nil {
			return err
		}
		pos, err := parsePosition(args[1], args[2])
		if err != nil {
			return err
		}
		if !r.canvas.DragNode(args[0], pos) {
			return fmt.Errorf("no node %s", args[0])
		}

	case "resize":
		if err := need(args, 3, replHelp["resize"]); err != nil {
			return err
		}
		w, errW := strconv.ParseFloat(args[1], 64)
		h, errH := strconv.ParseFloat(args[2], 64)
		if errW != nil || errH != nil {
			return errors.New("width and height must be numbers")
		}
		if !r.canvas.ResizeNode(args[0], w, h) {
			return fmt.Errorf("cannot resize %s to %gx%g", args[0], w, h)
		}

	case "connect":
		if err := need(args, 2, replHelp["connect"]); err != nil {
			return err
		}
		edge, ok := r.canvas.Connect(args[0], args[1])
		if !ok {
			return fmt.Errorf("cannot connect %s to %s", args[0], args[1])
		}
		Good.Fprintf(r.out, "Connected %s\n", edge.ID)

	case "select":
		var nodes, edges []string
		for _, id := range args {
			if graph.HasNode(id) {
				nodes = append(nodes, id)
			} else {
				edges = append(edges, id)
			}
		}
		r.canvas.SelectionChanged(nodes, edges)

	case "delete":
		r.canvas.KeyDown(canvas.KeyDelete)

	case "nodes":
		view := dto.ToGraphView(graph)
		selected := make(map[string]bool, len(view.Selection))
		for _, id := range view.Selection {
			selected[id] = true
		}
		printNodes(r.out, view.Nodes, selected)

	case "edges":
		view := dto.ToGraphView(graph)
		printEdges(r.out, view.Edges, view.Dangling)

	case "status":
		r.printStatus(r.session.Status())

	case "flush":
		fctx, cancel := context.WithTimeout(ctx, r.flushTimeout)
		defer cancel()
		if err := r.session.Flush(fctx); err != nil {
			return err
		}
		Good.Fprintln(r.out, "Saved")

	case "reload":
		if err := r.session.Reload(ctx); err != nil {
			return err
		}
		Good.Fprintf(r.out, "Reloaded %d node(s)\n", len(graph.Nodes()))

	case "help":
		keys := make([]string, 0, len(replHelp))
		for k := range replHelp {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintln(r.out, "  "+replHelp[k])
		}

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (r *REPL) printStatus(st session.Status) {
	switch {
	case st.Saving:
		Info.Fprintln(r.out, "Saving...")
	case st.Unsaved:
		Warn.Fprintln(r.out, "Unsaved changes")
	default:
		Good.Fprintln(r.out, "All changes saved")
	}
	if st.LastError != nil {
		Bad.Fprintf(r.out, "  last error: %v\n", st.LastError)
	}
	if !st.LastSavedAt.IsZero() {
		Subtle.Fprintf(r.out, "  last saved %s\n", st.LastSavedAt.Format(time.RFC3339))
	}
}

// Close flushes pending changes and closes the session
func (r *REPL) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
	defer cancel()
	flushErr := r.session.Flush(ctx)
	return errors.Join(flushErr, r.session.Close())
}

func newReplCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "repl <map-id>",
		Short: "Edit a map interactively on a live session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := opts.container(cmd.Context(), "error")
			if err != nil {
				return err
			}
			defer cleanup()

			sess, err := c.Sessions.Open(cmd.Context(), args[0])
			if err != nil {
				Bad.Fprintln(cmd.ErrOrStderr(), "Map could not be loaded.")
				return err
			}
			repl := NewREPL(sess, cmd.OutOrStdout(), c.Config.Sync.WriteTimeout.Std())

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          Brand.Sprint(sess.Map().Title) + "> ",
				HistoryFile:     filepath.Join(os.TempDir(), "mapsync_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "quit",
			})
			if err != nil {
				_ = repl.Close()
				return fmt.Errorf("failed to initialize readline: %w", err)
			}
			defer rl.Close()
			repl.out = rl.Stdout()

			stopNotices := sess.OnChange(func(ch aggregates.Change) {
				if ch.Origin == aggregates.OriginRemote {
					Subtle.Fprintln(rl.Stdout(), "(map updated from the store)")
				}
			})
			defer stopNotices()

			Brand.Fprintf(rl.Stdout(), "Editing %q. Type help for commands.\n", sess.Map().Title)
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				if err := repl.Exec(cmd.Context(), line); err != nil {
					if errors.Is(err, errQuit) {
						break
					}
					Bad.Fprintln(rl.Stdout(), err)
				}
			}

			if err := repl.Close(); err != nil {
				Warn.Fprintf(rl.Stdout(), "Not everything was saved: %v\n", err)
				return err
			}
			Good.Fprintln(rl.Stdout(), "Saved. Bye.")
			return nil
		},
	}
}
