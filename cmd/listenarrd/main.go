// Command listenarrd runs the request fulfillment daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"listenarr/internal/config"
	"listenarr/internal/daemonrun"
)

func main() {
	var configPath string
	var logLevel string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, resolvedPath, exists, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !exists {
		fmt.Fprintf(os.Stderr, "no config file at %s, using defaults\n", resolvedPath)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: logLevel}); err != nil {
		log.Fatalf("listenarrd: %v", err)
	}
}
