package cmd

import (
	"github.com/gantryci/gantry/server/httpserver"
	"github.com/gantryci/gantry/server/httpserver/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverConfigFile string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gantry control plane",
	Long: `Start the API, webhook intake, live stream and scheduler. Runs are
executed by separate runner processes connected over NATS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return httpserver.Run(serverConfigFile, Version, serverOverrides)
	},
}

// serverOverrides applies flag values on top of the parsed config file.
func serverOverrides(conf *config.Configs) {
	if port := viper.GetInt("port"); port != 0 {
		conf.HTTPServer.Port = port
	}
	if addr := viper.GetString("bind-addr"); addr != "" {
		conf.HTTPServer.BindAddr = addr
	}
	if level := viper.GetString("log-level"); level != "" {
		conf.HTTPServer.LogLevel = level
	}
}

func init() {
	gantryCmd.AddCommand(serverCmd)
	serverCmd.PersistentFlags().StringVar(&serverConfigFile, "config", "gantry-server.yaml", "Server config file")
	serverCmd.Flags().AddFlagSet(config.ServerFlagSet())
	viper.BindPFlags(serverCmd.Flags())
}
