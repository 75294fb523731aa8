package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/dkeye/Parley/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool                `help:"Enable debug logging."`
		Config  string              `help:"Config file; defaults to config/config.<CONFIG_ENV>.yaml." type:"path"`
		Version kong.VersionFlag    `help:"Print version."`
		Serve   commands.ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API, signaling relay and session sweeper."`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply the sqlite schema and exit."`
	}
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := kong.Parse(&cli,
		kong.Name("parley"),
		kong.Description("Conversation session coordinator."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version, ConfigFile: cli.Config})
	cmd.FatalIfErrorf(err)
}
