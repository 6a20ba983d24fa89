package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/logger"
)

var configPath = flag.String("config", "", "path to a YAML config file (or set STATEMENTS_CONFIG)")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&processCmd{}, "pipeline")
	commander.Register(&loadCmd{}, "pipeline")
	commander.Register(&listCmd{}, "pipeline")
	commander.Register(&ocrHealthCmd{}, "services")
	commander.Register(&archiveCmd{}, "services")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// setup loads configuration and returns a context carrying the logger. CLI
// logs go to stderr so command output stays clean.
func setup(ctx context.Context) (context.Context, *config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return ctx, nil, zerolog.Nop(), err
	}
	log, err := logger.NewWithConfig(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return ctx, nil, zerolog.Nop(), err
	}
	return logger.WithContext(ctx, log), cfg, log, nil
}

func fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return subcommands.ExitFailure
}
