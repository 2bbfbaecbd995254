// Command premiumctl administers premium principals and stored provider keys.
package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/storage/postgres"
)

type env struct {
	file  string
	dbURL string
	now   func() time.Time
	cost  int
}

func main() {
	_ = godotenv.Load()
	e := &env{now: time.Now, cost: bcrypt.DefaultCost}
	if err := newRootCmd(e).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:          "premiumctl",
		Short:        "Manage premium principals and provider keys",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&e.file, "file", "", "principals YAML file (instead of the database)")
	root.PersistentFlags().StringVar(&e.dbURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string")
	root.AddCommand(newPrincipalCmd(e), newKeyCmd(e), newHashCmd(e))
	return root
}

// openDB connects and makes sure the tables exist. The returned func closes
// the pool.
func (e *env) openDB(ctx context.Context) (infra.SQLExecutor, func(), error) {
	dsn := strings.TrimSpace(e.dbURL)
	if dsn == "" {
		return nil, nil, errors.New("DATABASE_URL or --database-url is required")
	}
	pool, err := infra.NewDBPool(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "premiumctl").Logger()
	runner := infra.NewSQLRunner(pool, &logger)
	if err := postgres.EnsureSchema(ctx, runner); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return runner, pool.Close, nil
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 15*time.Second)
}
