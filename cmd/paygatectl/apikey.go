package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/paygate/internal/domain/auth"
)

func apikeyCmd(g *globals) *cobra.Command {
	var pepper string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage operator API keys",
	}
	cmd.PersistentFlags().StringVar(&pepper, "pepper", "", "HMAC pepper (or PAYGATE_API_KEY_PEPPER env)")
	pepperOf := func() string {
		if pepper != "" {
			return pepper
		}
		return os.Getenv("PAYGATE_API_KEY_PEPPER")
	}

	var name string
	hash := &cobra.Command{
		Use:   "hash [key]",
		Short: "Print the hash of a key for PAYGATE_API_KEY_HASHES",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := auth.HashKey(pepperOf(), args[0])
			if name != "" {
				h = name + ":" + h
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
	hash.Flags().StringVar(&name, "name", "", "Prefix the hash with a key name")

	var scopes []string
	add := &cobra.Command{
		Use:   "add [name] [key]",
		Short: "Store a key hash in the api_keys table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			b, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer b.Close()
			if b.APIKeys == nil {
				return errors.Errorf("storage %q keeps no api keys, use postgres", g.storage.Driver)
			}

			info := auth.APIKeyInfo{
				ID:      strings.ToLower(args[0]),
				Name:    args[0],
				KeyHash: auth.HashKey(pepperOf(), args[1]),
				Scopes:  scopes,
			}
			if err := b.APIKeys.Upsert(ctx, info); err != nil {
				return err
			}
			g.lg.Info("API key stored", zap.String("id", info.ID))
			return nil
		},
	}
	add.Flags().StringSliceVar(&scopes, "scope", nil, "Key scopes")

	cmd.AddCommand(hash, add)
	return cmd
}
