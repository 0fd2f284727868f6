package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fugue/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fugue version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fugue v" + version.Version)
		},
	}
}
