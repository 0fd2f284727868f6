package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fugue/internal/dispatcher"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			var resp dispatcher.ListSessionsResponse
			if err := c.Call(dispatcher.OpListSessions, nil, &resp); err != nil {
				return err
			}
			for _, s := range resp.Sessions {
				fmt.Println(s.Name)
			}
			return nil
		},
	}
}
