package main

import (
	"os"

	"github.com/tsawler/sam-tuner/cmd/sam-tuner/app"
)

func main() {
	cmd := app.NewSamTunerCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
