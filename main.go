package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hbomb79/Marquee/internal"
	"github.com/hbomb79/Marquee/pkg/logger"
)

var log = logger.Get("Bootstrap")

// main is the entry point to the program. From here we load the users
// configuration, optionally perform a one-shot refresh of some lists, and
// then run Marquee until interrupted.
func main() {
	configPath := flag.String("config", internal.DefaultConfigPath, "path to the Marquee YAML configuration file")
	refreshLists := flag.String("refresh", "", "comma separated list names to refresh (page 1) before serving")
	flag.Parse()

	config := internal.MarqueeConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.SetMinLoggingLevel(logger.ParseLevel(config.LogLevel).Level())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	marquee, err := internal.New(config)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to initialise Marquee: %v\n", err)
		os.Exit(1)
	}
	defer marquee.Close()

	if *refreshLists != "" {
		for _, name := range strings.Split(*refreshLists, ",") {
			name = strings.TrimSpace(name)
			if err := marquee.RefreshService().RefreshList(ctx, name, 1); err != nil {
				log.Errorf("Initial refresh of list '%s' failed: %v\n", name, err)
			}
		}
	}

	if err := marquee.Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Marquee stopped due to error: %v\n", err)
		marquee.Close()
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Marquee shutdown complete\n")
}
