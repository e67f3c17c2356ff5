package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"

	"github.com/keyrotor/keyrotor/internal/output"
)

var extended bool

// versionReport is the JSON shape of `version --output-format json`.
type versionReport struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	Go        string `json:"go,omitempty"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		report := versionReport{
			Name:    GetAppIdentity().BinaryName,
			Version: versionInfo.Version,
		}
		if extended {
			deps := crucible.GetVersion()
			report.Commit = versionInfo.Commit
			report.BuildDate = versionInfo.BuildDate
			report.Go = runtime.Version()
			report.Gofulmen = deps.Gofulmen
			report.Crucible = deps.Crucible
		}
		return writeVersion(cmd.OutOrStdout(), format, report)
	},
}

func writeVersion(w io.Writer, format output.Format, report versionReport) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if _, err := fmt.Fprintf(w, "%s %s\n", report.Name, report.Version); err != nil {
		return err
	}
	if report.Go == "" {
		return nil
	}
	_, err := fmt.Fprintf(w, "Commit: %s\nBuilt: %s\nGo: %s\n\nGofulmen: %s\nCrucible: %s\n",
		report.Commit, report.BuildDate, report.Go, report.Gofulmen, report.Crucible)
	return err
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
	versionCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")
}
