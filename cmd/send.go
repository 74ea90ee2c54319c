package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"helmet-recorder/config"
	"helmet-recorder/constant"
	"helmet-recorder/dto"
	server2 "helmet-recorder/server"
)

var commands = []constant.Command{
	constant.CommandStartSession,
	constant.CommandStopSession,
	constant.CommandCapturePhoto,
	constant.CommandRetryFailed,
	constant.CommandUploadBatch,
	constant.CommandUploadArtifact,
}

func send(config *config.Config) *cobra.Command {
	var base, file string
	cmd := &cobra.Command{
		Use:   "send <device-id> <command>",
		Short: "publish a command to a recorder over rabbitmq",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := dto.CommandMessage{Command: constant.Command(args[1]), Base: base, FileName: file}
			if err := validateCommand(msg); err != nil {
				return err
			}
			return server2.SendCommand(config, args[0], msg)
		},
	}
	cmd.Flags().StringVar(&base, "base", "", "session key for upload_batch")
	cmd.Flags().StringVar(&file, "file", "", "file name for upload")
	return cmd
}

func validateCommand(msg dto.CommandMessage) error {
	known := false
	for _, c := range commands {
		if c == msg.Command {
			known = true
			break
		}
	}
	switch {
	case !known:
		return fmt.Errorf("unknown command %q, expected one of %v", msg.Command, commands)
	case msg.Command == constant.CommandUploadBatch && msg.Base == "":
		return fmt.Errorf("%s needs --base", msg.Command)
	case msg.Command == constant.CommandUploadArtifact && msg.FileName == "":
		return fmt.Errorf("%s needs --file", msg.Command)
	}
	return nil
}
