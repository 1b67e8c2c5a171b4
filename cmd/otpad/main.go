package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/otpad/otpad/internal/config"
	"github.com/otpad/otpad/internal/server"
	"github.com/otpad/otpad/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var snaps store.SnapshotStore
	var users store.UserStore
	if cfg.MongoURI != "" {
		ms, err := store.DialMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			log.Fatalf("mongo: %v", err)
		}
		log.Printf("connected to mongo at %s", cfg.MongoURI)
		snaps, users = ms, ms
	} else {
		log.Print("no OTPAD_MONGO_URI, using in-memory store")
		mem := store.NewMemStore()
		snaps, users = mem, mem
	}

	var broker server.Broker = server.NopBroker{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		log.Printf("publishing commit stream to redis at %s", cfg.RedisAddr)
		broker = server.NewRedisBroker(rdb)
	}

	srv := server.New(snaps, users, broker, []byte(cfg.JWTSecret), cfg.SnapshotInterval)
	if err := srv.Run(ctx, cfg.Addr); err != nil {
		log.Fatal(err)
	}
}
