// Copyright 2025 MCP Gateway Contributors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"mcpgateway/registry"
)

// seedFile is the on-disk shape of the optional server seed list.
// Values support ${ENV_VAR} expansion so credentials stay out of the
// file.
type seedFile struct {
	Servers []seedServer `yaml:"servers"`
}

type seedServer struct {
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	Transport    string            `yaml:"transport"`
	Description  string            `yaml:"description"`
	Capabilities []string          `yaml:"capabilities"`
	Keywords     []string          `yaml:"keywords"`
	Tools        []string          `yaml:"tools"`
	Auth         map[string]string `yaml:"auth"`
}

// defaultSeedServers are registered on first boot when no seed file is
// configured and the registry is empty, so a fresh install can route
// immediately.
var defaultSeedServers = []seedServer{
	{
		Name:        "playwright",
		URL:         "http://localhost:8001/sse",
		Transport:   "sse",
		Description: "Browser automation via Playwright",
		Capabilities: []string{
			"web browsing", "browser automation", "screenshots", "web scraping",
		},
		Keywords: []string{
			"browse", "website", "web", "click", "screenshot", "navigate",
			"page", "scrape", "form", "button",
		},
		Tools: []string{
			"browser_navigate", "browser_click", "browser_type",
			"browser_screenshot", "browser_snapshot",
		},
	},
	{
		Name:        "apollo",
		URL:         "http://localhost:5001/mcp",
		Transport:   "http",
		Description: "Space and astronomy data",
		Capabilities: []string{
			"space data", "astronomy", "astronaut information",
		},
		Keywords: []string{
			"space", "astronaut", "iss", "orbit", "launch", "nasa",
			"satellite", "moon", "mars",
		},
		Tools: []string{
			"get_astronauts", "get_iss_location", "search_launches",
		},
	},
}

// SeedRegistry registers startup servers when the registry is empty.
// A non-empty registry is left alone: persisted state wins over seeds.
// When path is empty the compiled-in defaults are used.
func SeedRegistry(ctx context.Context, reg *registry.Registry, path string, logger *log.Logger) error {
	if reg.Count() > 0 {
		return nil
	}

	servers := defaultSeedServers
	if path != "" {
		loaded, err := loadSeedFile(path)
		if err != nil {
			return err
		}
		servers = loaded
	}

	for _, seed := range servers {
		cfg := registry.ServerConfig{
			URL:          seed.URL,
			Transport:    registry.Transport(seed.Transport),
			Description:  seed.Description,
			Capabilities: seed.Capabilities,
			Keywords:     seed.Keywords,
			Tools:        seed.Tools,
			Auth:         seed.Auth,
		}
		if _, err := reg.Add(ctx, seed.Name, cfg); err != nil {
			// Another replica may have seeded first.
			if errors.Is(err, registry.ErrDuplicateName) {
				continue
			}
			return fmt.Errorf("failed to seed server %s: %w", seed.Name, err)
		}
		logger.Printf("Seeded server %s (%s)", seed.Name, seed.URL)
	}
	return nil
}

func loadSeedFile(path string) ([]seedServer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	expanded := os.ExpandEnv(string(raw))
	var file seedFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return file.Servers, nil
}
