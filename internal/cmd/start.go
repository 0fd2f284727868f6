package cmd

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"fugue/internal/config"
	"fugue/internal/daemon"
	"fugue/internal/socketdir"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, err := config.ResolveDir()
			if err != nil {
				return err
			}
			sockPath := socketdir.PathIn(stateDir)
			if conn, err := net.DialTimeout("unix", sockPath, 500*time.Millisecond); err == nil {
				conn.Close()
				fmt.Println("daemon is already running")
				return nil
			}
			if err := daemon.ForkDaemon(stateDir); err != nil {
				return err
			}
			fmt.Printf("daemon started (state dir %s)\n", stateDir)
			return nil
		},
	}
}
