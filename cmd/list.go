package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/facebench/internal/store"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List clips with their frame counts and persisted detector results",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runList(cmd.Context(), os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

type clipRow struct {
	Clip   string
	Frames int
	Models []string
}

func runList(ctx context.Context, out io.Writer) error {
	rows, err := collectClips(ctx, opts.FramesRoot, Results)
	if err != nil {
		utils.ShowError("Failed to list clips", err, nil)
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "No clips found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CLIP\tFRAMES\tRESULTS")
	fmt.Fprintln(w, "----\t------\t-------")
	for _, r := range rows {
		results := "-"
		if len(r.Models) > 0 {
			results = strings.Join(r.Models, ",")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", r.Clip, r.Frames, results)
	}
	w.Flush()

	if DB != nil {
		stats, err := DB.RunStats(ctx)
		if err != nil {
			utils.ShowError("Failed to read run timings", err, nil)
			return err
		}
		if len(stats) > 0 {
			fmt.Fprintln(out)
			w = tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "MODEL\tRUNS\tTOTAL SECONDS")
			fmt.Fprintln(w, "-----\t----\t-------------")
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%d\t%.2f\n", s.Model, s.Runs, s.Seconds)
			}
			w.Flush()
		}
	}
	return nil
}

// collectClips describes every clip under framesRoot. Clips whose frame directory is
// empty are listed with zero frames.
func collectClips(ctx context.Context, framesRoot string, results store.ResultStore) ([]clipRow, error) {
	clips, err := utils.ListClips(framesRoot)
	if err != nil {
		return nil, err
	}

	rows := make([]clipRow, 0, len(clips))
	for _, clip := range clips {
		row := clipRow{Clip: clip}
		if frames, err := utils.ListFrames(framesRoot, clip); err == nil {
			row.Frames = len(frames)
		}
		for _, m := range types.Models {
			ok, err := results.HasResult(ctx, clip, m.ID)
			if err != nil {
				return nil, err
			}
			if ok {
				row.Models = append(row.Models, m.ID)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
