package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatcurator/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	// Best-effort: the ranker API key usually lives in .env.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = a.Stop(context.Background())
}
