package cmd

import (
	"github.com/spf13/cobra"

	"helmet-recorder/config"
	server2 "helmet-recorder/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start recorder and http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunHttp(config)
		},
	}
}
