package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/pillminder/internal/api"
	"github.com/gmsas95/pillminder/internal/app"
	"github.com/gmsas95/pillminder/internal/cli"
	"github.com/gmsas95/pillminder/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	serverURL  = flag.String("server", "", "Server URL for client commands (default from config)")
	version    = "dev"
)

func main() {
	flag.Usage = func() { cli.PrintHelp(os.Stderr) }
	flag.Parse()

	cli.Version = version
	api.Version = version

	args := flag.Args()
	cmd := "help"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "help", "--help", "-h":
		cli.PrintHelp(os.Stdout)
		return
	case "version", "--version", "-v":
		fmt.Printf("pillminder %s\n", version)
		return
	}

	if err := config.LoadEnvFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	switch {
	case cmd == "serve":
		os.Exit(serve(cfg))

	case cmd == "status":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cli.Status(ctx, cfg, newClient(cfg), os.Stdout)

	case cli.Handles(cmd):
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		c := cli.New(newClient(cfg), os.Stdout, cli.ColorEnabled())
		if err := c.Run(ctx, cmd, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		cli.PrintHelp(os.Stderr)
		os.Exit(2)
	}
}

func newClient(cfg *config.Config) *cli.Client {
	base := *serverURL
	if base == "" {
		base = cfg.BaseURL()
	}
	return cli.NewClient(base, 0)
}

func serve(cfg *config.Config) int {
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("Starting Pillminder",
		zap.String("version", version),
		zap.String("config", cfg.Path()),
		zap.String("storage", cfg.Storage.Driver),
	)

	application, err := app.New(cfg, logger, version)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return 1
	}
	defer application.Close()

	if err := application.RunServer(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return 1
	}
	return 0
}
