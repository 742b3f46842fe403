package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"mio/internal/api"
	"mio/internal/config"
	"mio/internal/logging"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	service *api.Service
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

// withService opens the service on first use and keeps it for the rest of
// the command.
func (c *commandContext) withService(fn func(*api.Service) error) error {
	if c.service == nil {
		cfg, err := c.ensureConfig()
		if err != nil {
			return err
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			return err
		}
		svc, err := api.New(cfg, api.Options{Logger: logger})
		if err != nil {
			return err
		}
		c.service = svc
	}
	return fn(c.service)
}

func (c *commandContext) close() error {
	if c.service == nil {
		return nil
	}
	err := c.service.Close()
	c.service = nil
	return err
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
