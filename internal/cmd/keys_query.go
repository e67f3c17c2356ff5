package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/output"
)

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every key with its status and usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cfg, err := poolClient(cmd)
		if err != nil {
			return err
		}
		records, err := c.List(cmd.Context())
		if err != nil {
			return err
		}

		format, sink, err := commandOutput(cmd, "keys.list")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		reveal, _ := cmd.Flags().GetBool("reveal")
		rendered, err := output.NewFormatter(format).FormatKeys(output.KeyListing{
			Records:  records,
			Cooldown: cfg.Limits.KeyCooldown,
			Now:      time.Now().UTC(),
			Reveal:   reveal,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
		return err
	},
}

var keysStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show key counts by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := poolClient(cmd)
		if err != nil {
			return err
		}
		stats, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}

		format, sink, err := commandOutput(cmd, "keys.stats")
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatStats(stats)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, strings.TrimRight(rendered, "\n"))
		return err
	},
}

var keysNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Take the next available key",
	Long: `Take the next available key from the pool. Each call counts as one use
against the key and the pool-wide limit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		c, _, err := poolClient(cmd)
		if err != nil {
			return err
		}
		key, err := c.Next(cmd.Context(), core.ParseSelectionMode(mode))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
		return err
	},
}

func init() {
	addOutputFlags(keysListCmd)
	keysListCmd.Flags().Bool("reveal", false, "Print full keys instead of masking them")
	addOutputFlags(keysStatsCmd)
	keysNextCmd.Flags().String("mode", string(core.SelectionAuto), "selection mode: auto|random")
}
