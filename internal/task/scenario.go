package task

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is the YAML file the CLI loads task prototypes from.
type Scenario struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// Endpoint describes one weighted HTTP request prototype.
type Endpoint struct {
	Name    string            `yaml:"name"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Weight  int               `yaml:"weight"`
	// Check is an optional gjson path that must resolve in the response body
	// for the request to count as a success.
	Check string `yaml:"check"`
}

// LoadScenario parses and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the scenario is runnable.
func (s *Scenario) Validate() error {
	if len(s.Endpoints) == 0 {
		return fmt.Errorf("scenario: at least one endpoint is required")
	}
	for i, ep := range s.Endpoints {
		if ep.Method == "" {
			return fmt.Errorf("scenario: endpoint %d: method is required", i)
		}
		if ep.URL == "" {
			return fmt.Errorf("scenario: endpoint %d: url is required", i)
		}
		if ep.Weight < 0 {
			return fmt.Errorf("scenario: endpoint %q: weight must be non-negative", ep.name(i))
		}
	}
	return nil
}

func (ep Endpoint) name(i int) string {
	if ep.Name != "" {
		return ep.Name
	}
	return fmt.Sprintf("endpoint-%d", i)
}
