package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keyrotor/keyrotor/internal/client"
	"github.com/keyrotor/keyrotor/internal/output"
)

var keysAddCmd = &cobra.Command{
	Use:   "add <key>",
	Short: "Add a key, or overwrite it with a fresh record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, _, err := poolClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Add(cmd.Context(), args[0]); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", output.MaskKey(args[0]))
		return err
	},
}

var keysAddBulkCmd = &cobra.Command{
	Use:   "add-bulk [key...]",
	Short: "Add many keys in one request",
	Long: `Add many keys in one request. Keys come from the arguments and from
--file (one per line, '#' starts a comment, '-' reads stdin).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := collectKeys(cmd, args)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return errors.New("no keys given; pass keys as arguments or use --file")
		}

		c, _, err := poolClient(cmd)
		if err != nil {
			return err
		}
		added, err := c.AddBulk(cmd.Context(), keys)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added %d key(s)\n", added)
		return err
	},
}

// keyAction builds a single-key admin command.
func keyAction(use, short, verb string, call func(*client.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := poolClient(cmd)
			if err != nil {
				return err
			}
			if err := call(c, cmd.Context(), args[0]); err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("key %s not found: %w", output.MaskKey(args[0]), err)
				}
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, output.MaskKey(args[0]))
			return err
		},
	}
}

var (
	keysDeleteCmd     = keyAction("delete", "Remove a key from the pool", "Deleted", (*client.Client).Delete)
	keysDeactivateCmd = keyAction("deactivate", "Retire a key until its cooldown elapses", "Deactivated", (*client.Client).Deactivate)
	keysReactivateCmd = keyAction("reactivate", "Return a key to service immediately", "Reactivated", (*client.Client).Reactivate)
)

func init() {
	keysAddBulkCmd.Flags().String("file", "", "read keys from a file, one per line ('-' for stdin)")
}
