package cmd

import (
	"github.com/spf13/cobra"

	"helmet-recorder/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "helmet-recorder",
		Short:        "chunked dashcam recorder and uploader",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(recoverCmd(config))
	rootCmd.AddCommand(retry(config))
	rootCmd.AddCommand(send(config))
	return rootCmd
}
