package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/facebench/internal/aggregate"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"github.com/spf13/cobra"
)

var reportModels string

var reportCmd = &cobra.Command{
	Use:   "report [clip...]",
	Short: "Score persisted detector results against the hand-coded labels",
	Long: `Appends one block per clip to <output>/<model>_results.txt for every selected model.
"Total accuracy" in a block is missed frames divided by total frames (a miss rate).
With no clip arguments every clip directory under --frames is scored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReport(cmd.Context(), args, reportModels)
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportModels, "models", "m", "hc,mtcnn,rf", "Comma-separated models to score (hc, mtcnn, rf)")
	rootCmd.AddCommand(reportCmd)
}

func runReport(ctx context.Context, clips []string, modelList string) error {
	models, err := parseModels(modelList)
	if err != nil {
		utils.ShowError("Invalid models", err, nil)
		return err
	}
	if len(clips) == 0 {
		clips, err = utils.ListClips(opts.FramesRoot)
		if err != nil {
			utils.ShowError("Failed to list clips", err, nil)
			return err
		}
	}
	if len(clips) == 0 {
		fmt.Println("No clips found.")
		return nil
	}

	agg := aggregate.New(Results, opts.LabelsDir, opts.OutputRoot, Log)

	scored, failed := 0, 0
	for _, m := range models {
		scores, err := agg.Run(ctx, m.ID, clips)
		if errors.Is(err, context.Canceled) {
			return err
		}
		for _, s := range scores {
			if s.Err != nil {
				failed++
			} else {
				scored++
			}
		}
		fmt.Fprintf(os.Stderr, "📝 %s: wrote %s\n", m.Name, agg.ReportPath(m.ID))
	}

	fmt.Fprintf(os.Stderr, "🏁 Scored %d (clip, model) pairs, %d unavailable.\n", scored, failed)
	if scored == 0 && failed > 0 {
		err := errors.New("no clip could be scored")
		utils.ShowError("Report failed", err, nil)
		return err
	}
	return nil
}

// parseModels resolves a comma-separated list of model IDs.
func parseModels(list string) ([]types.Model, error) {
	var (
		models []types.Model
		seen   = make(map[string]bool)
	)
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		m, ok := types.LookupModel(id)
		if !ok {
			return nil, fmt.Errorf("unknown model %q (expected hc, mtcnn or rf)", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("model %q listed twice", id)
		}
		seen[id] = true
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil, errors.New("no models selected")
	}
	return models, nil
}
