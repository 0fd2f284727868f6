package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"fugue/internal/dispatcher"
	"fugue/internal/wire"
)

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <session-name>",
		Short: "Attach this terminal to a session's focused pane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doAttach(args[0])
		},
	}
}

// doAttach proxies this terminal to the session's focused pane: stdin
// becomes send_input, Output events for that pane stream to stdout.
// Detach with ctrl+\. This is deliberately a raw byte proxy - layout
// rendering belongs to the full TUI client, not fuguectl.
func doAttach(name string) error {
	c, err := dialDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	var attach dispatcher.AttachSessionResponse
	if err := c.Call(dispatcher.OpAttachSession, dispatcher.AttachSessionRequest{Name: name}, &attach); err != nil {
		return err
	}
	paneID := attach.FocusedPane
	if paneID.Empty() {
		return fmt.Errorf("session %q has no focused pane", name)
	}

	fd := int(os.Stdin.Fd())
	if cols, rows, err := term.GetSize(fd); err == nil {
		c.Call(dispatcher.OpResizePane, dispatcher.ResizePaneRequest{PaneID: paneID, Rows: rows, Cols: cols}, nil)
	}

	// Replay the pane's recent scrollback so the screen is not blank.
	var read dispatcher.ReadPaneResponse
	if err := c.Call(dispatcher.OpReadPane, dispatcher.ReadPaneRequest{PaneID: paneID}, &read); err == nil {
		os.Stdout.Write(read.Bytes)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		term.Restore(fd, oldState)
		os.Stdout.WriteString("\033[?25h\033[0m\r\n")
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			if cols, rows, err := term.GetSize(fd); err == nil {
				c.Call(dispatcher.OpResizePane, dispatcher.ResizePaneRequest{PaneID: paneID, Rows: rows, Cols: cols}, nil)
			}
		}
	}()

	done := make(chan struct{})

	// stdin -> send_input frames.
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				for _, b := range buf[:n] {
					if b == 0x1C { // ctrl+\ detaches
						return
					}
				}
				input := append([]byte(nil), buf[:n]...)
				if err := c.Call(dispatcher.OpSendInput, dispatcher.SendInputRequest{PaneID: paneID, Bytes: input}, nil); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Event stream -> stdout for our pane's output.
	for {
		select {
		case env, ok := <-c.Events():
			if !ok {
				return nil
			}
			switch env.Kind {
			case wire.KindOutput:
				var out dispatcher.OutputBroadcast
				if json.Unmarshal(env.Payload, &out) == nil && out.PaneID == paneID {
					os.Stdout.Write(out.Bytes)
				}
			case wire.KindPaneCrash:
				var crash dispatcher.PaneCrashBroadcast
				if json.Unmarshal(env.Payload, &crash) == nil && crash.PaneID == paneID {
					return nil
				}
			case wire.KindPaneFocused:
				var focus dispatcher.PaneFocusedBroadcast
				if json.Unmarshal(env.Payload, &focus) == nil && focus.SessionID == attach.SessionID {
					paneID = focus.PaneID
				}
			case wire.KindSessionKilled:
				var killed dispatcher.SessionKilledBroadcast
				if json.Unmarshal(env.Payload, &killed) == nil && killed.SessionID == attach.SessionID {
					return nil
				}
			}
		case <-done:
			return nil
		}
	}
}
