package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/message"
)

func newRecallCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "recall <id>",
		Short: "Copy a history entry back onto the system clipboard",
		Long: `Places the entry's content back on the system clipboard and moves it to
the head of the history.

With --print the content is written to stdout instead (text as stored,
images as PNG bytes), like pbpaste:

  vestige recall --print <id> > screenshot.png`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runRecall(v, args[0]) },
	}

	cmd.Flags().Bool("print", false, "write the entry to stdout instead of the clipboard")
	addConfigFlag(cmd)

	return cmd
}

func runRecall(v *viper.Viper, id string) error {
	resp, err := requestDaemon(&message.Message{
		Type:  message.TypeRecall,
		ID:    id,
		Print: v.GetBool("print"),
	})
	if err != nil {
		return err
	}
	if resp.Type != message.TypePayload || resp.Payload == nil {
		return nil
	}

	p := resp.Payload
	if p.Kind == entry.KindImage {
		_, err = os.Stdout.Write(p.Data)
		return err
	}
	_, err = os.Stdout.WriteString(p.Text)
	return err
}
