package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/vestige/internal/message"
)

func newRemoveCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "rm <id>",
		Short:   "Remove one entry from the history",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(_ *cobra.Command, args []string) error {
			_, err := requestDaemon(&message.Message{Type: message.TypeRemove, ID: args[0]})
			return err
		},
	}
	addConfigFlag(cmd)

	return cmd
}

func newClearCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Remove every entry from the history",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := requestDaemon(&message.Message{Type: message.TypeClear})
			return err
		},
	}
	addConfigFlag(cmd)

	return cmd
}
