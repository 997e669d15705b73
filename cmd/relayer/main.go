package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vianetwork/bridge-relayer/pkg/app"
	relayerapp "github.com/vianetwork/bridge-relayer/pkg/app/relayer"
	"github.com/vianetwork/bridge-relayer/pkg/config"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var runner app.Runner = relayerapp.NewServer(cfg)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Relayer terminated: %v\n", err)
		os.Exit(1)
	}
}
