// Command storyforged runs the content pipeline daemon: the polling worker,
// the cache sweeper, and the read-only status API.
package main

import (
	"context"
	"log"

	"storyforge/internal/config"
	"storyforge/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("storyforged: %v", err)
	}
}
