package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/talkincode/wagateway/config"
	"github.com/talkincode/wagateway/internal/app"
)

var (
	cfgFile string
	cfg     *config.AppConfig
	cfgView *viper.Viper
)

func Execute() error {
	root := &cobra.Command{
		Use:           "wagateway",
		Short:         "Multi-session WhatsApp gateway",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "initcfg" {
				return nil
			}
			var err error
			cfg, cfgView, err = config.LoadConfig(cfgFile)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./wagateway.yml or /etc/wagateway.yml)")

	root.AddCommand(serveCmd(), initdbCmd(), initcfgCmd(), pairCmd())
	return root.Execute()
}

// startApp initializes logging, the database and the document store.
func startApp() *app.Application {
	application := app.NewApplication(cfg)
	application.Init(cfg)
	return application
}
