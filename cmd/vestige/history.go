package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/vestige/internal/entry"
	"go.klb.dev/vestige/internal/message"
)

// previewCols bounds the content column in the history table.
const previewCols = 56

func newHistoryCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the clipboard history, most recent first",
		Long: `Lists the retained clipboard entries. Text entries show a bounded
preview; image entries show their dimensions. Use the printed id with
"vestige recall" or "vestige rm".`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runHistory(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runHistory(v *viper.Viper) error {
	resp, err := requestDaemon(&message.Message{Type: message.TypeHistory})
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp.Entries, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	printHistory(resp.Entries, resp.Capacity)
	return nil
}

func printHistory(entries []entry.Summary, capacity int) {
	if len(entries) == 0 {
		fmt.Println("History is empty.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\tKIND\tAGE\tSIZE\tCONTENT\n")
	_, _ = fmt.Fprintf(tw, "--\t----\t---\t----\t-------\n")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Kind, humanize.Time(e.CreatedAt), sizeColumn(e), contentColumn(e))
	}
	_ = tw.Flush()
	fmt.Printf("\n%d of %d entries\n", len(entries), capacity)
}

func sizeColumn(e entry.Summary) string {
	if e.Kind == entry.KindImage {
		return "-"
	}
	return humanize.Bytes(uint64(e.Size))
}

func contentColumn(e entry.Summary) string {
	if e.Kind == entry.KindImage {
		return fmt.Sprintf("%dx%d image", e.Width, e.Height)
	}
	// Collapse runs of whitespace so multi-line entries stay on one row.
	return entry.Preview(strings.Join(strings.Fields(e.Text), " "), previewCols)
}
