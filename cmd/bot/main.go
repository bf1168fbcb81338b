package main

import (
	"flag"

	"github.com/redis/go-redis/v9"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/lussekatt/internal/app"
	"github.com/shrimpsizemoose/lussekatt/internal/bot"
	"github.com/shrimpsizemoose/lussekatt/internal/grading"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	cfg, err := bot.ReadConfig(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}

	store, err := app.NewStore(cfg.Database.DSN, cfg.Database.MigrationsDir)
	if err != nil {
		logger.Error.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	opt, err := redis.ParseURL(cfg.Auth.RedisURL)
	if err != nil {
		logger.Error.Fatalf("Failed to parse redis URL: %v", err)
	}
	tokens := app.NewTokenManager(redis.NewClient(opt))
	defer tokens.Close()

	queue := grading.NewQueue(store, cfg.LeaseDuration())

	b, err := bot.New(cfg, queue, tokens)
	if err != nil {
		logger.Error.Fatalf("Failed to create bot: %v", err)
	}

	logger.Info.Println("Starting lussekatt bot")
	if err := b.Start(); err != nil {
		logger.Error.Fatalf("Bot failed: %v", err)
	}
}
