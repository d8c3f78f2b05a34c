package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func initdbCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Drop and recreate the gateway tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("initdb drops every instance row, rerun with --force")
			}
			application := startApp()
			defer application.Release()
			application.InitDb()
			fmt.Fprintln(cmd.OutOrStdout(), "Database initialized")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm dropping existing tables")
	return cmd
}
