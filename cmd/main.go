package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"interview-battle-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("interview-battle exited")
		os.Exit(1)
	}
}
