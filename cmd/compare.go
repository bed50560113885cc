package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/andresmejia3/facebench/internal/aggregate"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare <clip> <model>",
	Short: "Compare one clip's persisted result with its labels and list the wrong frames",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runCompare(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(compareCmd)
}

func runCompare(ctx context.Context, clip, modelID string) error {
	m, ok := types.LookupModel(modelID)
	if !ok {
		err := fmt.Errorf("unknown model %q (expected hc, mtcnn or rf)", modelID)
		utils.ShowError("Invalid model", err, nil)
		return err
	}

	agg := aggregate.New(Results, opts.LabelsDir, opts.OutputRoot, Log)
	score := agg.Score(ctx, m.ID, clip)
	if score.Err != nil {
		utils.ShowError(fmt.Sprintf("Cannot compare %s/%s", clip, m.ID), score.Err, nil)
		return score.Err
	}

	printComparison(os.Stdout, m, score)
	return nil
}

func printComparison(out io.Writer, m types.Model, s aggregate.ClipScore) {
	if s.Report.IsMismatch() {
		fmt.Fprintf(out, "❌ %s result for %s has a different frame count than its labels.\n", m.Name, s.Clip)
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CLIP\tMODEL\tFRAMES\tMISSED\tSINGLE ACC\tMULTI ACC")
	fmt.Fprintln(w, "----\t-----\t------\t------\t----------\t---------")
	fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.3f\t%.3f\n",
		s.Clip, m.Name, s.Frames, s.Report.Missed, s.Report.SingleAccuracy, s.Report.MultiAccuracy)
	w.Flush()

	fmt.Fprintf(out, "\nWrong single-face frames: %s\n", fmtFrames(s.Report.WrongSingle))
	fmt.Fprintf(out, "Wrong multi-face frames:  %s\n", fmtFrames(s.Report.WrongMulti))
}

// fmtFrames prints 0-based indices as 1-based frame numbers, matching the label files.
func fmtFrames(idx []int) string {
	if len(idx) == 0 {
		return "none"
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v + 1)
	}
	return strings.Join(parts, " ")
}
