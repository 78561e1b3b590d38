package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/duskmud/driver/game"
	"github.com/duskmud/driver/structs"
)

func main() {
	cfg, err := structs.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(os.Getenv("HOME"), ".duskmud")
	}
	if cfg.MudlibDir == "" {
		cfg.MudlibDir = filepath.Join(cfg.DataDir, "mudlib")
	}

	flag.StringVar(&cfg.DataDir, "dir", cfg.DataDir, "Where to save world, player and audit data.")
	flag.StringVar(&cfg.MudlibDir, "mudlib", cfg.MudlibDir, "Root of the mudlib source tree.")
	flag.IntVar(&cfg.MaxIsolates, "isolates", cfg.MaxIsolates, "Maximum concurrent script sandboxes.")
	bootPath := flag.String("boot", "/secure/master.js", "Object cloned at startup.")
	flag.Parse()

	g, err := game.New(cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := g.LoadWorld(ctx); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal(err)
		}
		log.Printf("no world snapshot, booting %s", *bootPath)
		if _, err := g.LoadObject(ctx, *bootPath); err != nil {
			log.Fatal(err)
		}
	}
	if err := g.Start(ctx); err != nil {
		log.Fatal(err)
	}
	log.Printf("driver running, data in %s, mudlib in %s", cfg.DataDir, cfg.MudlibDir)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Print("shutting down")
	if err := g.SaveWorld(); err != nil {
		log.Printf("saving world: %v", err)
	}
	if err := g.Stop(); err != nil {
		log.Printf("stopping: %v", err)
	}
}
