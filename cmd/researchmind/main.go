package main

import (
	"os"

	"github.com/tanv99/ResearchMind-Multi-Agent-RL/internal/cli"
)

var version = "0.1.0"

func main() {
	os.Exit(cli.Execute(version))
}
