package cmd

import (
	"encoding/json"
	"os"

	"example.com/backstage/services/telemetry/config"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var strictValidate bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare the model's equipment with the spec table",
	Long:  `Extract the equipment catalog from the model file and print which expected labels are missing or unexpected`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&strictValidate, "strict", false, "exit with an error when expected equipment is missing")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	closeLog := setupLogging(cfg)
	defer closeLog()

	p, err := buildPipeline(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.coordinator.ValidateCatalog()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return errors.Wrap(err, "failed to write report")
	}

	if strictValidate && !report.Complete() {
		return errors.Errorf("%d expected equipment labels missing from the model", len(report.Missing))
	}
	return nil
}
