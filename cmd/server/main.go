// cmd/server/main.go
package main

import (
	"log"

	"github.com/Corphon/StoryboardStudio/internal/app"
	"github.com/Corphon/StoryboardStudio/internal/config"
)

func main() {
	log.Println("Starting storyboard editor server")

	// the config file comes from $STORYBOARD_CONFIG; `storyboard serve --config` takes a flag
	if err := config.InitConfig(""); err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := config.GetCurrentConfig()

	application, err := app.New(cfg, app.Options{})
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}

	log.Printf("Listening on http://localhost:%s (backend %s)", cfg.Port, cfg.BackendURL)
	if err := application.Run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
