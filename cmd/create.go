package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

var (
	createName  string
	createNAICS string
	createNotes string
)

var createCmd = &cobra.Command{
	Use:   "create <document.txt> [more documents...]",
	Short: "Create a valuation report from extracted document text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer env.Close()

		intake := model.Intake{
			CompanyName: createName,
			NAICSCode:   createNAICS,
			Notes:       createNotes,
		}
		for _, path := range args {
			text, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read document %s", path)
			}
			intake.Documents = append(intake.Documents, model.SourceDocument{
				Name: filepath.Base(path),
				Text: string(text),
			})
		}

		r, err := env.Orch.Create(cmd.Context(), intake)
		if err != nil {
			return err
		}

		fmt.Printf("created report %s for %s (%d documents)\n", r.ID, r.CompanyName, len(intake.Documents))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createName, "name", "", "company name (required)")
	createCmd.Flags().StringVar(&createNAICS, "naics", "", "stated NAICS code, if known")
	createCmd.Flags().StringVar(&createNotes, "notes", "", "engagement notes passed to every pass")
	_ = createCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(createCmd)
}
