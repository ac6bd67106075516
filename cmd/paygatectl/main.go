// Command paygatectl inspects and exports reconciled orders and manages
// operator API keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appkg "github.com/xenking/paygate/internal/app"
)

var Version = "dev"

// globals are the flags shared by every subcommand.
type globals struct {
	storage appkg.StorageConfig
	verbose bool

	lg *zap.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "paygatectl",
		Short:         "Operate the paygate order store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := zap.NewProductionConfig()
			cfg.Encoding = "console"
			if g.verbose {
				cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			}
			lg, err := cfg.Build()
			if err != nil {
				return err
			}
			g.lg = lg
			if g.storage.DatabaseURL == "" {
				g.storage.DatabaseURL = os.Getenv("DATABASE_URL")
			}
			if g.storage.RedisURL == "" {
				g.storage.RedisURL = os.Getenv("REDIS_URL")
			}
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&g.storage.Driver, "storage", appkg.DriverPostgres, "Order store: postgres or redis")
	f.StringVar(&g.storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	f.StringVar(&g.storage.RedisURL, "redis-url", "", "Redis connection URL (or REDIS_URL env)")
	f.StringVar(&g.storage.RedisPrefix, "redis-prefix", "paygate", "Redis key prefix")
	f.BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(ordersCmd(g))
	cmd.AddCommand(apikeyCmd(g))
	return cmd
}

// open connects the configured store. The in-memory store is refused since
// a fresh process would always see it empty.
func (g *globals) open(ctx context.Context) (*appkg.Backend, error) {
	if err := g.storage.Validate(); err != nil {
		return nil, err
	}
	if g.storage.Driver == appkg.DriverMemory {
		return nil, errors.Errorf("storage %q holds no data outside the server process", appkg.DriverMemory)
	}
	return appkg.OpenBackend(ctx, g.lg, g.storage)
}
