package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facebench/internal/labels"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels <clip>",
	Short: "Print the parsed ground truth of a clip as frame ranges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runLabels(args[0])
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}

func runLabels(clip string) error {
	if err := utils.ValidateClipName(clip); err != nil {
		utils.ShowError("Invalid clip name", err, nil)
		return err
	}
	gt, err := labels.ParseFile(labels.Path(opts.LabelsDir, clip))
	if err != nil {
		utils.ShowError("Failed to parse labels", err, nil)
		return err
	}
	printLabels(os.Stdout, clip, gt)
	return nil
}

// frameRange is an inclusive 1-based run of set frames.
type frameRange struct {
	Start int
	End   int
}

// ranges collapses a presence sequence into its runs of 1s.
func ranges(s types.Sequence) []frameRange {
	var out []frameRange
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			continue
		}
		j := i
		for j+1 < len(s) && s[j+1] != 0 {
			j++
		}
		out = append(out, frameRange{Start: i + 1, End: j + 1})
		i = j
	}
	return out
}

func printLabels(out io.Writer, clip string, gt types.GroundTruth) {
	fmt.Fprintf(out, "🏷️  %s: %d frames, %d single-face, %d multi-face\n\n",
		clip, gt.Frames(), gt.Single.Count(), gt.Multi.Count())

	single, multi := ranges(gt.Single), ranges(gt.Multi)
	if len(single) == 0 && len(multi) == 0 {
		fmt.Fprintln(out, "No faces labeled.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KIND\tFROM\tTO\tFRAMES")
	fmt.Fprintln(w, "----\t----\t--\t------")
	for _, r := range single {
		fmt.Fprintf(w, "f\t%d\t%d\t%d\n", r.Start, r.End, r.End-r.Start+1)
	}
	for _, r := range multi {
		fmt.Fprintf(w, "ff\t%d\t%d\t%d\n", r.Start, r.End, r.End-r.Start+1)
	}
	w.Flush()
}
