package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <report-id>",
	Short: "Show a report's progress projection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		proj, err := env.Orch.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(proj, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <report-id>",
	Short: "Cooperatively cancel a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orch.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("report %s cancelled\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
}
