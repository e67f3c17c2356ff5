package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/keyrotor/keyrotor/internal/core/store"
	"github.com/keyrotor/keyrotor/internal/output"
)

var storeResetCmd = &cobra.Command{
	Use:   "reset-usage",
	Short: "Zero persisted usage counters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := storeQueryFromFlags(cmd)
		if err := query.Validate(); err != nil {
			return err
		}

		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if query.All && !yes && !dryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		gw, _, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer gw.Close() // nolint:errcheck // best-effort cleanup

		format, sink, err := commandOutput(cmd, "store.reset-usage")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		result, err := store.ResetUsage(cmd.Context(), gw, query, dryRun)
		if err != nil {
			return err
		}
		return writeResetResult(format, sink.writer, result)
	},
}

func writeResetResult(format output.Format, w io.Writer, result store.ResetResult) error {
	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if result.DryRun {
		_, err := fmt.Fprintf(w, "Would reset usage on %d key(s)\n", result.Matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Reset usage on %d/%d key(s)\n", result.Reset, result.Matched)
	return err
}

func init() {
	addOutputFlags(storeResetCmd)
	storeResetCmd.Flags().Bool("all", false, "Reset all keys")
	storeResetCmd.Flags().String("key", "", "Reset a single key (exact match)")
	storeResetCmd.Flags().String("prefix", "", "Reset keys with matching prefix")
	storeResetCmd.Flags().Bool("yes", false, "Confirm destructive reset")
	storeResetCmd.Flags().Bool("dry-run", false, "Show what would be reset")
}
