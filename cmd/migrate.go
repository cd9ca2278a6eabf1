package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valuation-pipeline/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables for the configured driver",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed <benchmarks.json>",
	Short: "Load industry multiple ceilings into the benchmark table",
	Long:  "Reads a JSON array of {naics_code, sde_multiple_max, ebitda_multiple_max, source_year} rows and upserts them. The value gate reads this table at finalization.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read benchmark file %s", args[0])
		}
		var benchmarks []store.Benchmark
		if err := json.Unmarshal(data, &benchmarks); err != nil {
			return eris.Wrap(err, "parse benchmark file")
		}
		if len(benchmarks) == 0 {
			return eris.New("benchmark file is empty")
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		n, err := st.UpsertBenchmarks(cmd.Context(), benchmarks)
		if err != nil {
			return err
		}

		zap.L().Info("benchmarks seeded", zap.Int64("rows", n))
		fmt.Printf("seeded %d benchmark rows\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}
