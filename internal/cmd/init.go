package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"fugue/internal/config"
)

func newInitCmd() *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a fugue state directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			if global {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				dir = filepath.Join(home, ".fugue")
			} else {
				dir = filepath.Join(dir, ".fugue")
			}

			if config.IsFugueDir(dir) {
				fmt.Printf("%s is already a fugue directory\n", dir)
				return nil
			}
			for _, sub := range []string{"wal", "checkpoints", "sessions", "sockets", "presets"} {
				if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
					return err
				}
			}
			if err := config.WriteMarker(dir); err != nil {
				return err
			}
			fmt.Printf("initialized fugue directory at %s\n", dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "initialize ~/.fugue instead of ./.fugue")
	return cmd
}
