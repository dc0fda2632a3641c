package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Abdullah1738/lws-scan/internal/config"
	"github.com/Abdullah1738/lws-scan/internal/keys"
	"github.com/Abdullah1738/lws-scan/internal/logging"
	"github.com/Abdullah1738/lws-scan/internal/storage"
	"github.com/Abdullah1738/lws-scan/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const programName = "lws-scan"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var cfg config.Config
	root := &cobra.Command{
		Use:           programName,
		Short:         "Light-wallet scanning backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg.BindStore(root.PersistentFlags())
	root.AddCommand(runCommand(&cfg), adminCommand(&cfg))
	return root
}

// env is what every command opens before doing its work.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	network keys.Network
	st      store.Store
}

func open(ctx context.Context, cfg *config.Config) (*env, error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	network, err := keys.ParseNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}
	lock := store.DefaultLockPolicy
	lock.Attempts = cfg.LockAttempts
	st, err := storage.Open(ctx, storage.Config{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		Schema: cfg.DBSchema,
		Path:   cfg.DBPath,
		Lock:   lock,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &env{cfg: cfg, log: log, network: network, st: st}, nil
}

func (e *env) close() error {
	_ = e.log.Sync()
	return e.st.Close()
}
