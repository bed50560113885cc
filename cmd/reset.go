package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetResults   bool
	resetReports   bool
	resetAnnotated bool
	resetYes       bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset benchmark state (results, reports, timing log, annotated frames)",
	Long:  "Clears generated data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetResults && !resetReports && !resetAnnotated {
			resetResults = true
			resetReports = true
			resetAnnotated = true
		}

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool {
			return resetYes || confirm(reader, prompt)
		}

		if resetResults {
			if ask("⚠️  Are you sure you want to delete all persisted detector results?") {
				fmt.Println("🗑️  Clearing Results...")
				if err := Results.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset results", err, nil)
					return err
				}
			}
		}

		if resetReports {
			if ask("⚠️  Are you sure you want to delete the timing log and all model reports?") {
				fmt.Println("🗑️  Clearing Reports...")
				for _, path := range reportFiles(opts.OutputRoot) {
					removePath(path)
				}
			}
		}

		if resetAnnotated {
			if ask("⚠️  Are you sure you want to delete all annotated frames?") {
				fmt.Println("🗑️  Clearing Annotated Frames...")
				removePath(opts.AnnotatedRoot)
			}
		}

		fmt.Println("✨ Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetResults, "results", false, "Clear persisted results (and database tables when --db is set)")
	resetCmd.Flags().BoolVar(&resetReports, "reports", false, "Clear time.txt and <model>_results.txt")
	resetCmd.Flags().BoolVar(&resetAnnotated, "annotations", false, "Clear annotated frames")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// reportFiles lists the text files the timing log and aggregator append to.
func reportFiles(outputRoot string) []string {
	files := []string{filepath.Join(outputRoot, "time.txt")}
	for _, m := range types.Models {
		files = append(files, filepath.Join(outputRoot, m.ID+"_results.txt"))
	}
	return files
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removePath(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
