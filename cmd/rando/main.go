package main

import (
	"os"

	"github.com/rs/zerolog"

	cmd "github.com/vandervillain/rando/internal/commands"
	"github.com/vandervillain/rando/internal/logging"
)

func main() {
	// The call screen owns the terminal, so only errors reach stderr
	// unless LOG_LEVEL says otherwise.
	logging.Init(os.Stderr, zerolog.ErrorLevel)
	cmd.Execute()
}
