package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openjobspec/ojs-cron-nats/internal/core"
	"github.com/openjobspec/ojs-cron-nats/internal/scheduler"
)

// parseDefinition decodes a YAML or JSON job definition and checks its
// schedule.
func parseDefinition(data []byte) (*core.Definition, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting definition: %w", err)
	}
	def, err := core.ParseDefinition(raw)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, errors.New("definition is empty")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if def.Cron != "" {
		if err := scheduler.ValidateCron(def.Cron); err != nil {
			return nil, err
		}
	}
	return def, nil
}
