package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"helmet-recorder/config"
	server2 "helmet-recorder/server"
)

func recoverCmd(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "repair the recording directory after an unclean stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunRecover(config)
		},
	}
}

func retry(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "retry every failed upload once",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := server2.RunRetry(config)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempted=%d succeeded=%d failed=%d\n", report.Attempted, report.Succeeded, report.Failed)
			return nil
		},
	}
}
