package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/valuation-pipeline/internal/pipeline"
)

var advanceFollow bool

var advanceCmd = &cobra.Command{
	Use:   "advance <report-id>",
	Short: "Advance a report by one unit of progress",
	Long:  "Polls the in-flight generation job or submits the next pass. With --follow, keeps advancing until the report completes, blocks, or fails.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		for {
			res, err := env.Orch.Advance(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out, mErr := json.MarshalIndent(res, "", "  ")
			if mErr != nil {
				return mErr
			}
			fmt.Println(string(out))

			if !advanceFollow || res.Status != pipeline.StatusProcessing {
				return nil
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(2 * time.Second):
			}
		}
	},
}

func init() {
	advanceCmd.Flags().BoolVar(&advanceFollow, "follow", false, "keep advancing until a terminal or blocked state")
	rootCmd.AddCommand(advanceCmd)
}
