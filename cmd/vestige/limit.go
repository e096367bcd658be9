package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/vestige/internal/message"
)

func newLimitCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "limit <n>",
		Short: "Resize the history",
		Long: `Sets how many entries the history retains. Shrinking evicts the oldest
entries immediately. The new capacity persists across daemon restarts.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runLimit(args[0]) },
	}
	addConfigFlag(cmd)

	return cmd
}

func runLimit(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return fmt.Errorf("capacity must be a positive integer, got %q", arg)
	}

	resp, err := requestDaemon(&message.Message{Type: message.TypeLimit, Limit: n})
	if err != nil {
		return err
	}
	fmt.Printf("capacity set to %d\n", resp.Capacity)
	return nil
}
