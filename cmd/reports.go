package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/valuation-pipeline/internal/model"
	"github.com/sells-group/valuation-pipeline/internal/store"
)

var (
	reportsStatus  string
	reportsCompany string
	reportsLimit   int
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List valuation reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		rs, err := env.Store.ListReports(cmd.Context(), store.ReportFilter{
			Status:      model.ReportStatus(reportsStatus),
			CompanyName: reportsCompany,
			Limit:       reportsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOMPANY\tSTATUS\tPASS\tUPDATED")
		for _, r := range rs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
				r.ID, r.CompanyName, r.Status, r.CurrentPass+1, env.Registry.TotalPasses(),
				r.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	reportsCmd.Flags().StringVar(&reportsStatus, "status", "", "filter by status (pending, processing, completed, failed, cancelled)")
	reportsCmd.Flags().StringVar(&reportsCompany, "company", "", "filter by exact company name")
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 50, "maximum rows")
	rootCmd.AddCommand(reportsCmd)
}
