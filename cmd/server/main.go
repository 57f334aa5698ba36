package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SalieeriW/twokeys-backend/internal/config"
	"github.com/SalieeriW/twokeys-backend/internal/engine"
	"github.com/SalieeriW/twokeys-backend/internal/httpapi"
	"github.com/SalieeriW/twokeys-backend/internal/hub"
	"github.com/SalieeriW/twokeys-backend/internal/orchestrator"
	"github.com/SalieeriW/twokeys-backend/internal/puzzle"
)

func newCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "twokeys-server",
		Short:         "Two-player cooperative puzzle session server.",
		Args:          cobra.ExactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringP("bind", "b", "0.0.0.0", "address to bind to (env: TWOKEYS_BIND)")
	fs.IntP("port", "p", 8080, "port to listen on (env: TWOKEYS_PORT)")
	fs.Duration("start-delay", 5*time.Second, "briefing countdown before active play (env: TWOKEYS_START_DELAY)")
	fs.Duration("sync-window", 10*time.Second, "max gap between the two confirmations (env: TWOKEYS_SYNC_WINDOW)")
	fs.Duration("retry-delay", 3*time.Second, "pause before a failed attempt restarts (env: TWOKEYS_RETRY_DELAY)")
	fs.Duration("advance-delay", 5*time.Second, "pause before a cleared level advances (env: TWOKEYS_ADVANCE_DELAY)")
	fs.Int("final-level", puzzle.Count(), "level the game is won at (env: TWOKEYS_FINAL_LEVEL)")
	fs.String("orchestrator-url", "", "webhook for terminal results (env: TWOKEYS_ORCHESTRATOR_URL)")
	fs.BoolP("verbose", "v", false, "development logging (env: TWOKEYS_VERBOSE)")
	cobra.CheckErr(v.BindPFlags(fs))

	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules := engine.Rules{
		StartDelay:   cfg.StartDelay,
		SyncWindow:   cfg.SyncWindow,
		RetryDelay:   cfg.RetryDelay,
		AdvanceDelay: cfg.AdvanceDelay,
		FinalLevel:   cfg.FinalLevel,
	}
	deps := engine.Deps{Resolve: puzzle.Check, Hint: puzzle.Hint}
	notify := orchestrator.New(cfg.OrchestratorURL, log)

	h := hub.New(ctx, rules, deps, notify, log)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: httpapi.SetupRoutes(h, log),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Inbox() <- hub.ShutdownHub{}
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()
	cobra.CheckErr(newCmd().Execute())
}
