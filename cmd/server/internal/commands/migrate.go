package commands

import (
	"context"

	"github.com/dkeye/Parley/internal/store/sqlite"
	"github.com/rs/zerolog/log"
)

type MigrateCmd struct {
	DSN string `help:"sqlite DSN; overrides store.dsn."`
}

func (c *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := globals.load()
	if err != nil {
		return err
	}
	dsn := cfg.Store.DSN
	if c.DSN != "" {
		dsn = c.DSN
	}
	st, err := sqlite.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	log.Info().Str("dsn", dsn).Msg("schema up to date")
	return nil
}
