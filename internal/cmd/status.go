package cmd

import (
	"fmt"
	"os"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"fugue/internal/config"
	"fugue/internal/dispatcher"
	"fugue/internal/termstyle"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, err := config.ResolveDir()
			if err != nil {
				return err
			}

			out := termenv.NewOutput(os.Stdout)

			c, err := dialDaemon()
			if err != nil {
				fmt.Printf("%s daemon not running (state dir %s)\n", termstyle.RedX(), stateDir)
				return nil
			}
			defer c.Close()

			var ping dispatcher.PingResponse
			if err := c.Call(dispatcher.OpPing, nil, &ping); err != nil {
				return err
			}
			fmt.Printf("%s %s (state dir %s)\n", termstyle.GreenDot(), out.String("fugued running").Bold(), stateDir)

			var sessions dispatcher.ListSessionsResponse
			if err := c.Call(dispatcher.OpListSessions, nil, &sessions); err != nil {
				return err
			}
			if len(sessions.Sessions) == 0 {
				fmt.Println(termstyle.Dim("no sessions"))
				return nil
			}
			for _, s := range sessions.Sessions {
				var panes dispatcher.ListPanesResponse
				paneCount := 0
				if err := c.Call(dispatcher.OpListPanes, dispatcher.ListPanesRequest{SessionID: s.ID}, &panes); err == nil {
					paneCount = len(panes.Panes)
				}
				tags := ""
				if len(s.Tags) > 0 {
					tags = termstyle.Dim(fmt.Sprintf("  [%s]", joinTags(s.Tags)))
				}
				fmt.Printf("  %s %s - %d window(s), %d pane(s)%s\n",
					termstyle.Cyan(s.Name), termstyle.Dim(s.ID.String()[:8]), len(s.WindowIDs), paneCount, tags)
			}
			return nil
		},
	}
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
