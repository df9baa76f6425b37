package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/firewatch/server"
	"github.com/cyclopcam/firewatch/server/config"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("firewatch", "Watches a camera for fire, and raises the alarm with the society backend")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (JSON)", Default: config.DefaultFilename})
	envFile := parser.String("e", "env", &argparse.Options{Help: "File of environment variables, for secrets", Default: ".env"})
	listen := parser.String("l", "listen", &argparse.Options{Help: "HTTP listen address, eg :8080 (overrides config)", Default: ""})
	noStart := parser.Flag("", "nostart", &argparse.Options{Help: "Don't start the camera until asked to over HTTP", Default: false})
	checkOnly := parser.Flag("", "check", &argparse.Options{Help: "Validate the configuration and exit", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Errorf("Failed to load %v: %v", *envFile, err)
		os.Exit(1)
	}

	// A missing config file is fine when everything comes from the environment
	filename := *configFile
	if _, err := os.Stat(filename); os.IsNotExist(err) && filename == config.DefaultFilename {
		logger.Infof("No %v found. Using defaults and environment", filename)
		filename = ""
	}
	cfg, err := config.LoadConfig(filename)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	cfg.ApplyEnv()
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *noStart {
		cfg.Camera.AutoStart = false
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}
	if *checkOnly {
		logger.Infof("Configuration is valid")
		return
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()
	srv.AutoStart()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.Listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		<-srv.ShutdownComplete
		os.Exit(1)
	}
	<-srv.ShutdownComplete
}
