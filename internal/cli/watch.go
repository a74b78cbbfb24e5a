package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gridsync/internal/engine"
	"github.com/roach88/gridsync/internal/multiplayer"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/txn"
)

// watchPoll is how often watch checks for --until.
const watchPoll = 10 * time.Millisecond

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	ConfigPath string
	URL        string
	FileID     string
	UserID     string
	Name       string
	Until      int64
}

// WatchEvent is one line of watch output.
type WatchEvent struct {
	Event      string   `json:"event"` // "roster", "transaction" or "done"
	Players    []string `json:"players,omitempty"`
	ID         string   `json:"id,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
	Operations []string `json:"operations,omitempty"`
	Seq        int64    `json:"seq,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a room and print what happens in it",
		Long: `Join the room of a file as a read-only session and print roster changes
and every transaction applied, starting from the beginning of the log.

With --format json each event is printed as one JSON object per line.

Examples:
  gridsync watch --file budget
  gridsync watch --url ws://grid.internal:8080/ws --file budget --name Ops
  gridsync watch --file budget --until 200`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.URL, "url", "", "room server websocket URL (overrides config)")
	cmd.Flags().StringVar(&opts.FileID, "file", "", "file ID (required)")
	cmd.Flags().StringVar(&opts.UserID, "user", "watcher", "user ID announced to the room")
	cmd.Flags().StringVar(&opts.Name, "name", "Watcher", "first name announced to the room")
	cmd.Flags().Int64Var(&opts.Until, "until", 0, "exit once this sequence number is applied (0 runs until interrupted)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// watcher serializes output from the engine and client goroutines.
type watcher struct {
	mu   sync.Mutex
	w    io.Writer
	json bool

	// players is the last printed roster; it starts as a value no roster
	// produces so the first one is always printed.
	players string
}

func (w *watcher) emit(ev WatchEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.write(ev)
}

func (w *watcher) write(ev WatchEvent) {
	if w.json {
		_ = json.NewEncoder(w.w).Encode(ev)
		return
	}
	switch ev.Event {
	case "roster":
		if len(ev.Players) == 0 {
			fmt.Fprintln(w.w, "players: (none)")
			return
		}
		fmt.Fprintf(w.w, "players: %s\n", strings.Join(ev.Players, ", "))
	case "transaction":
		fmt.Fprintf(w.w, "tx %s from %s [%s]\n", ev.ID, ev.SessionID, strings.Join(ev.Operations, ", "))
	case "done":
		fmt.Fprintf(w.w, "✓ reached seq %d\n", ev.Seq)
	}
}

// roster prints the players when the set of sessions changes. Presence
// updates that only move a cursor are not printed.
func (w *watcher) roster(players []multiplayer.Player) {
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = fmt.Sprintf("%s (%s)", p.FirstName, p.SessionID)
	}
	key := strings.Join(names, "\x00")

	w.mu.Lock()
	defer w.mu.Unlock()
	if key == w.players {
		return
	}
	w.players = key
	w.write(WatchEvent{Event: "roster", Players: names})
}

func (w *watcher) applied(a engine.Applied) {
	if a.Type != engine.EventTypeRemote {
		return
	}
	w.emit(WatchEvent{
		Event:      "transaction",
		ID:         a.Transaction.ID,
		SessionID:  a.SessionID,
		Operations: operationKinds(a.Transaction),
	})
}

func operationKinds(tx *txn.Transaction) []string {
	kinds := make([]string, len(tx.Operations))
	for i, op := range tx.Operations {
		kinds[i] = op.Kind()
	}
	return kinds
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	mc := cfg.Multiplayer()
	if opts.URL != "" {
		mc.URL = opts.URL
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	w := &watcher{w: cmd.OutOrStdout(), json: opts.Format == "json", players: "\x01"}

	eng := engine.New(txn.NewController(sheet.NewForFile(opts.FileID)), engine.WithListener(w.applied))
	client := multiplayer.NewClient(mc,
		multiplayer.Identity{UserID: opts.UserID, FirstName: opts.Name},
		eng,
		multiplayer.WithRosterListener(w.roster),
	)
	eng.SetBroadcaster(client)

	engDone := make(chan struct{})
	go func() {
		defer close(engDone)
		_ = eng.Run(ctx)
	}()
	defer func() {
		client.Disconnect()
		eng.Stop()
		<-engDone
	}()

	if err := client.EnterRoom(ctx, opts.FileID); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to join %s", mc.URL), err)
	}
	formatter(opts.RootOptions, cmd).VerboseLog("joined %s as %s", opts.FileID, client.SessionID())

	if opts.Until <= 0 {
		<-ctx.Done()
		return nil
	}
	if err := waitForSequence(ctx, client, opts.Until); err != nil {
		return NewExitError(ExitFailure, fmt.Sprintf("stopped before seq %d", opts.Until))
	}
	// Every transaction up to Until is queued on the engine by now.
	if err := eng.Read(ctx, func(*txn.Controller) {}); err != nil {
		return WrapExitError(ExitFailure, "engine stopped", err)
	}
	w.emit(WatchEvent{Event: "done", Seq: client.LastSequence()})
	return nil
}

func waitForSequence(ctx context.Context, client *multiplayer.Client, seq int64) error {
	ticker := time.NewTicker(watchPoll)
	defer ticker.Stop()
	for client.LastSequence() < seq {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
