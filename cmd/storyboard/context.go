// cmd/storyboard/context.go
package main

import (
	"io"
	"strings"
	"sync"

	"github.com/Corphon/StoryboardStudio/internal/backend"
	"github.com/Corphon/StoryboardStudio/internal/config"
	"github.com/Corphon/StoryboardStudio/internal/services"
	"github.com/Corphon/StoryboardStudio/internal/store"
	"github.com/Corphon/StoryboardStudio/internal/utils"
)

type commandContext struct {
	configFlag  *string
	backendFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, backendFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		backendFlag: backendFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.backendFlag != nil && strings.TrimSpace(*c.backendFlag) != "" {
			cfg.BackendURL = strings.TrimRight(strings.TrimSpace(*c.backendFlag), "/")
			if err := cfg.Validate(); err != nil {
				c.configErr = err
				return
			}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// cliLogger keeps session logs off stdout so rendered output stays clean
func cliLogger(stderr io.Writer) *utils.Logger {
	logger := utils.NewLogger(stderr)
	logger.SetLogLevel(utils.WARNING)
	return logger
}

// newSession builds a one-shot editor session talking to the configured backend
func newSession(cfg *config.Config, logger *utils.Logger) *services.EditorSession {
	metrics := utils.NewEditorMetrics(utils.NewMetricsCollector(), logger)
	client := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL}, backend.WithMetrics(metrics))
	return services.NewEditorSession("", client, services.SessionOptions{
		Ordering:       store.Ordering(cfg.SceneOrdering),
		Policy:         store.StalenessPolicy(cfg.StalenessPolicy),
		Propagation:    services.StylePropagation(cfg.StylePropagation),
		RequestTimeout: cfg.RequestTimeout(),
		Metrics:        metrics,
		Logger:         logger,
	})
}
