package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/sarchlab/nachosvm/datarecording"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report [recording.sqlite3]",
	Short: "Summarize a recording.",
	Long: "`report [recording.sqlite3]` prints the paging events and the " +
		"process exits stored in a recording made by `run --record`.",
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pid, _ := cmd.Flags().GetInt("pid")

		reader, err := datarecording.NewKernelReader(args[0])
		if err != nil {
			log.Fatalf("Error opening recording: %v", err)
		}
		defer reader.Close()

		if err := report(cmd.Context(), cmd, reader, pid); err != nil {
			log.Fatalf("Error reading recording: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Int("pid", 0, "Only list the exits of this process.")
}

func report(
	ctx context.Context,
	cmd *cobra.Command,
	reader datarecording.DataReader,
	pid int,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w := cmd.OutOrStdout()

	counts, err := datarecording.CountPagingEvents(ctx, reader)
	if err != nil {
		return err
	}

	for _, c := range counts {
		fmt.Fprintf(w, "%-12s %d\n", c.Event, c.Count)
	}

	params := datarecording.QueryParams{OrderBy: "Seq"}
	if pid != 0 {
		params.Where = "PID = ?"
		params.Args = []any{pid}
	}

	exits, _, err := reader.Query(ctx, datarecording.ExitTable, params)
	if err != nil {
		return err
	}

	for _, e := range exits {
		r := e.(*datarecording.ExitRecord)
		fmt.Fprintf(w, "process %d (%s) exited with status %d\n",
			r.PID, r.Name, r.Status)
	}

	return nil
}
