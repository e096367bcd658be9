package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/vestige/internal/message"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show daemon health and history statistics",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	resp, err := requestDaemon(&message.Message{Type: message.TypeStats})
	if err != nil {
		return err
	}
	if resp.Stats == nil {
		return fmt.Errorf("malformed response: missing stats")
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(resp.Stats, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	printStats(resp.Stats)
	return nil
}

func printStats(s *message.Stats) {
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Daemon:\tvestige %s\n", s.Version)
	_, _ = fmt.Fprintf(w, "Socket:\t%s\n", s.Socket)
	_, _ = fmt.Fprintf(w, "Backend:\t%s\n", s.Backend)
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", humanize.Time(s.StartedAt))
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Entries:\t%d of %d\n", s.Entries, s.Capacity)
	_, _ = fmt.Fprintf(w, "Text held:\t%s\n", humanize.Bytes(uint64(s.TextBytes)))
	_, _ = fmt.Fprintf(w, "Image blobs:\t%d files, %s\n", s.BlobFiles, humanize.Bytes(uint64(s.BlobBytes)))
	_, _ = fmt.Fprintf(w, "Inserts:\t%d (%d duplicates, %d evicted, %d rejected)\n",
		s.Inserts, s.Duplicates, s.Evictions, s.Rejected)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Governor:\t%s\n", s.GovernorState)
	_, _ = fmt.Fprintf(w, "Heap:\t%s\n", humanize.Bytes(s.HeapBytes))
	_, _ = fmt.Fprintf(w, "Cleanups:\t%d (%d aggressive), trimmed %d entries, swept %d blobs\n",
		s.Cleans, s.AggressiveCleans, s.TrimmedEntries, s.SweptBlobs)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Polls:\t%d (%d captures, %d read errors)\n", s.Polls, s.Captures, s.ReadErrors)
	_, _ = fmt.Fprintf(w, "Poll interval:\t%s\n", s.PollInterval)
	_ = w.Flush()
}
