package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fugue/internal/config"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon (clean shutdown drives a final checkpoint)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateDir, err := config.ResolveDir()
			if err != nil {
				return err
			}
			pidPath := filepath.Join(stateDir, "fugued.pid")
			data, err := os.ReadFile(pidPath)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("daemon is not running")
					return nil
				}
				return err
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return fmt.Errorf("bad pid file %s: %w", pidPath, err)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon (pid %d): %w", pid, err)
			}
			// Wait for the pid file to disappear: the daemon removes it
			// after the final checkpoint lands.
			for i := 0; i < 100; i++ {
				time.Sleep(100 * time.Millisecond)
				if _, err := os.Stat(pidPath); os.IsNotExist(err) {
					fmt.Println("daemon stopped")
					return nil
				}
			}
			return fmt.Errorf("daemon (pid %d) did not exit in time", pid)
		},
	}
}
