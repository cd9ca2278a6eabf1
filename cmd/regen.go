package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var regenCmd = &cobra.Command{
	Use:   "regen <report-id>",
	Short: "Regenerate the report document from stored pass outputs",
	Long:  "Re-runs the calculation engine, reconciliation, and the gate chain without calling the generation service. Fails with the missing pass list when required outputs are absent.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orch.Regenerate(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if !res.Success {
			return fmt.Errorf("regeneration did not produce a report")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(regenCmd)
}
