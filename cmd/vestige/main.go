// vestige: clipboard history daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "vestige",
		Short: "Clipboard history daemon",
		Long: `vestige watches the system clipboard and keeps a bounded, deduplicated
history of recent text and image entries, persisted across restarts.

Run "vestige daemon" in the background. The other subcommands talk to the
daemon over a local socket: "history" lists entries, "recall" puts one back
on the clipboard, "rm"/"clear" drop entries, "limit" resizes the history,
and "status" shows daemon health.

Config file search order (first found wins):
  /etc/vestige/vestige.toml
  <user config dir>/vestige/vestige.toml   (~/.config/vestige on Linux)
  path supplied via --config

All flags can be set via VESTIGE_<FLAG> env vars or config-file keys.
See "vestige daemon --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newDaemonCmd(),
		newHistoryCmd(),
		newRecallCmd(),
		newRemoveCmd(),
		newClearCmd(),
		newLimitCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("vestige %s\n", Version)
		},
	}
}
