package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/acp0/acp0/cmd/acp0/commands"
	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/libs/cli"
	"github.com/acp0/acp0/libs/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conf := config.DefaultConfig()

	logger, err := log.NewDefaultLogger(conf.LogFormat, conf.LogLevel)
	if err != nil {
		panic(err)
	}

	rcmd := commands.RootCommand(conf, logger)
	rcmd.AddCommand(
		commands.MakeInitCommand(conf, logger),
		commands.MakeGenKeyCommand(conf),
		commands.MakeDemoCommand(conf, logger),
		commands.MakeRelayCommand(conf, logger),
		commands.VersionCmd,
	)

	cli.Execute(ctx, rcmd)
}
