package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jobstarter/jobstarter/cmd/jobstarter/commands"
	"github.com/jobstarter/jobstarter/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(telemetry.ParseLevel(os.Getenv("LOG_LEVEL")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first signal cancels the running command so it can record its
	// outcome; a second one exits at once.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Shutting down, signal again to force")
		cancel()
		<-sigChan
		os.Exit(commands.ExitInterrupted)
	}()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	code := commands.ExitCode(err)
	if code != commands.ExitOK {
		log.Error().Err(err).Int("exit_code", code).Msg("Command failed")
	}
	return code
}
