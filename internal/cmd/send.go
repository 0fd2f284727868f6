package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"fugue/internal/dispatcher"
	"fugue/internal/fugueid"
)

func newSendCmd() *cobra.Command {
	var (
		session  string
		tag      string
		worktree string
		parent   bool
		all      bool
		msgType  string
	)
	cmd := &cobra.Command{
		Use:   "send [json-payload]",
		Short: "Send an orchestration message to one or more sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			req := dispatcher.SendOrchestrationRequest{MsgType: msgType}
			switch {
			case session != "":
				var sessions dispatcher.ListSessionsResponse
				if err := c.Call(dispatcher.OpListSessions, nil, &sessions); err != nil {
					return err
				}
				var id fugueid.ID
				for _, s := range sessions.Sessions {
					if s.Name == session {
						id = s.ID
						break
					}
				}
				if id.Empty() {
					return fmt.Errorf("session %q not found", session)
				}
				req.TargetKind, req.SessionID = "session", id
			case tag != "":
				req.TargetKind, req.Tag = "tagged", tag
			case worktree != "":
				req.TargetKind, req.WorktreePath = "worktree", worktree
			case parent:
				req.TargetKind = "parent"
			case all:
				req.TargetKind = "broadcast"
			default:
				return fmt.Errorf("pick a target: --session, --tag, --worktree, --parent, or --all")
			}
			if len(args) == 1 {
				if !json.Valid([]byte(args[0])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				req.Payload = json.RawMessage(args[0])
			}

			var resp dispatcher.SendOrchestrationResponse
			if err := c.Call(dispatcher.OpSendOrchestration, req, &resp); err != nil {
				return err
			}
			fmt.Printf("delivered to %d session(s)\n", resp.DeliveredCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "target a session by name")
	cmd.Flags().StringVar(&tag, "tag", "", "target every session carrying a tag")
	cmd.Flags().StringVar(&worktree, "worktree", "", "target sessions rooted at a worktree path")
	cmd.Flags().BoolVar(&parent, "parent", false, "target the sender's parent session")
	cmd.Flags().BoolVar(&all, "all", false, "target every other session")
	cmd.Flags().StringVar(&msgType, "type", "message", "message type tag")
	return cmd
}
