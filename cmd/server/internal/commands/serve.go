package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	router "github.com/dkeye/Parley/internal/adapters/http"
	"github.com/dkeye/Parley/internal/adapters/signal"
	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/events"
	"github.com/dkeye/Parley/internal/events/amqp"
	"github.com/dkeye/Parley/internal/store"
	"github.com/dkeye/Parley/internal/store/memory"
	"github.com/dkeye/Parley/internal/store/sqlite"
	"github.com/rs/zerolog/log"
)

type ServeCmd struct {
	Port int `help:"Listen port; overrides config."`
}

func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return memory.New(), nil
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func openPublisher(ctx context.Context, cfg config.Events) (events.Publisher, error) {
	switch cfg.Driver {
	case "log", "":
		return events.NewLogPublisher(), nil
	case "amqp":
		return amqp.Dial(ctx, cfg.URL, cfg.Exchange, cfg.DialTimeout)
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pub, err := openPublisher(ctx, cfg.Events)
	if err != nil {
		return fmt.Errorf("open publisher: %w", err)
	}
	defer pub.Close()

	conv := cfg.Conversation
	ledger := app.NewLedger(st, st, pub, app.LedgerConfig{
		RegistrationDeadline:   conv.RegistrationDeadline,
		CancellationDeadline:   conv.CancellationDeadline,
		MaxActiveRegistrations: conv.MaxActiveRegistrations,
	}, time.Now)
	catalog := app.NewCatalog(st, st, app.CatalogConfig{
		RegistrationDeadline:   conv.RegistrationDeadline,
		DefaultMinParticipants: conv.DefaultMinParticipants,
		DefaultMaxParticipants: conv.DefaultMaxParticipants,
	}, time.Now)
	directory := app.NewDirectory(st, ledger, pub, app.DirectoryConfig{
		GracePeriod: conv.GracePeriod,
		JoinEarly:   conv.JoinEarly,
	}, time.Now)

	reg := app.NewRegistry()
	relay := orch.New(reg, directory, app.SimplePolicy{})
	directory.OnSessionEnded(relay.EndSession)
	directory.OnParticipantLeft(relay.Kick)
	defer relay.CloseAll()

	ctrl := signal.NewSignalWSController(relay,
		signal.NewUserRateLimiter(cfg.Signal.RatePerSecond, cfg.Signal.RateBurst),
		signal.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			SendBuffer: cfg.Signal.SendBuffer,
		})

	go app.NewSweeper(directory, cfg.SweepInterval, time.Now).Run(ctx)

	handler := router.SetupRouter(ctx, cfg, &router.Services{
		Catalog:   catalog,
		Ledger:    ledger,
		Directory: directory,
		Signal:    ctrl,
		Health:    st.Ping,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Parley server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
