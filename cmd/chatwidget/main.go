package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/travochat/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
		logger.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cli.Execute()
}
