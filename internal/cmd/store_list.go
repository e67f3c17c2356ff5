package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/keyrotor/keyrotor/internal/core/store"
	"github.com/keyrotor/keyrotor/internal/output"
)

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := storeQueryFromFlags(cmd)
		if query.Key == "" && query.Prefix == "" {
			query.All = true
		}
		reveal, _ := cmd.Flags().GetBool("reveal")

		gw, cfg, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer gw.Close() // nolint:errcheck // best-effort cleanup

		records, err := store.ListKeys(cmd.Context(), gw, query)
		if err != nil {
			return err
		}

		format, sink, err := commandOutput(cmd, "store.list")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		listing := output.KeyListing{
			Records:  records,
			Cooldown: cfg.Limits.KeyCooldown,
			Now:      time.Now().UTC(),
			Reveal:   reveal,
		}
		rendered, err := output.NewFormatter(format).FormatKeys(listing)
		if err != nil {
			return err
		}

		if format == output.FormatJSON {
			_, err = fmt.Fprintln(sink.writer, rendered)
			return err
		}

		header := fmt.Sprintf("Persisted keys (%s: %s)", gw.Driver(), store.Describe(cfg.Store))
		_, err = fmt.Fprint(sink.writer, ascii.DrawBox(header, 0))
		if err != nil {
			return err
		}
		if len(records) == 0 {
			_, err = fmt.Fprintln(sink.writer, "(no persisted keys)")
			return err
		}
		_, err = fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
		return err
	},
}

func init() {
	addOutputFlags(storeListCmd)
	storeListCmd.Flags().Bool("all", false, "List all keys (default when no filter is given)")
	storeListCmd.Flags().String("key", "", "List a single key (exact match)")
	storeListCmd.Flags().String("prefix", "", "List keys with matching prefix")
	storeListCmd.Flags().Bool("reveal", false, "Print full keys instead of masking them")
}
