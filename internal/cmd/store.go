package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core/store"
)

var storeBindings = map[string]string{
	"store-driver": "store.driver",
	"store-path":   "store.path",
	"store-url":    "store.url",
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and repair persisted key state",
	Long: `Inspect and repair the persisted key snapshot directly.

These commands read the store the server persists to. Stop the server before
running reset-usage; a running server overwrites the store on its next
persist tick.`,
}

func init() {
	storeCmd.PersistentFlags().String("store-driver", "", "persistence backend: file|libsql|postgres (default from config)")
	storeCmd.PersistentFlags().String("store-path", "", "store file path (file and local libsql drivers)")
	storeCmd.PersistentFlags().String("store-url", "", "store URL (remote libsql or postgres)")

	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeResetCmd)
	rootCmd.AddCommand(storeCmd)
}

// openStore loads config with the store flags of cmd applied and opens the
// configured gateway.
func openStore(cmd *cobra.Command) (store.Gateway, *config.Config, error) {
	cfg, err := loadConfig(cmd, storeBindings)
	if err != nil {
		return nil, nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	gw, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return gw, cfg, nil
}

func storeQueryFromFlags(cmd *cobra.Command) store.KeyQuery {
	all, _ := cmd.Flags().GetBool("all")
	key, _ := cmd.Flags().GetString("key")
	prefix, _ := cmd.Flags().GetString("prefix")
	return store.KeyQuery{
		All:    all,
		Key:    strings.TrimSpace(key),
		Prefix: strings.TrimSpace(prefix),
	}
}
