package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fugue/internal/dispatcher"
)

func newNewSessionCmd() *cobra.Command {
	var (
		name   string
		cwd    string
		tags   []string
		preset string
		vars   []string
	)
	cmd := &cobra.Command{
		Use:   "new [command [args...]]",
		Short: "Create a session hosting a command (default: your shell)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.Close()

			req := dispatcher.CreateSessionRequest{
				Name:   name,
				CWD:    cwd,
				Tags:   tags,
				Preset: preset,
			}
			if len(args) > 0 {
				req.Command = args[0]
				req.Args = args[1:]
			}
			if len(vars) > 0 {
				req.Vars = make(map[string]string, len(vars))
				for _, v := range vars {
					k, val, ok := strings.Cut(v, "=")
					if !ok {
						return fmt.Errorf("--var %q is not KEY=VALUE", v)
					}
					req.Vars[k] = val
				}
			}

			var resp dispatcher.CreateSessionResponse
			if err := c.Call(dispatcher.OpCreateSession, req, &resp); err != nil {
				return err
			}
			fmt.Printf("created session %s (pane %s)\n", resp.SessionID, resp.PaneID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "session name (generated if omitted)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the initial pane")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag to attach (repeatable)")
	cmd.Flags().StringVar(&preset, "preset", "", "command preset from <state-dir>/presets/")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "preset variable KEY=VALUE (repeatable)")
	return cmd
}
