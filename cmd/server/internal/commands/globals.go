package commands

import (
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/logger"
	"github.com/rs/zerolog/log"
)

type Globals struct {
	Debug      bool
	Version    string
	ConfigFile string
}

// load reads config and installs the global logger.
func (g *Globals) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.ConfigFile != "" {
		cfg, err = config.LoadFile(g.ConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	logger.Setup(g.Debug || cfg.Mode == "debug", cfg.LogLevel)
	log.Info().Str("version", g.Version).Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Msg("config loaded")
	return cfg, nil
}
