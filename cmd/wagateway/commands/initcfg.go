package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/talkincode/wagateway/config"
)

func initcfgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initcfg [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "wagateway.yml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default config written to %s\n", path)
			return nil
		},
	}
}
