// Package seed loads the reference catalog and the initial queue state that
// the service restores on start and on every reset.
package seed

import (
	_ "embed"
	"fmt"
	"os"

	"ddrc/queue-service/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

type Seed struct {
	Catalog Catalog `yaml:"catalog"`
	State   State   `yaml:"state"`
}

type Catalog struct {
	Regions     []models.Region                         `yaml:"regions"`
	Branches    []models.Branch                         `yaml:"branches"`
	Departments []models.Department                     `yaml:"departments"`
	Tests       []models.Test                           `yaml:"tests"`
	Users       []models.User                           `yaml:"users"`
	Roles       []models.Role                           `yaml:"roles"`
	Modules     []models.Module                         `yaml:"modules"`
	Permissions map[string]map[string]models.Permission `yaml:"permissions"`
}

type State struct {
	TokenCounter int64                     `yaml:"token_counter"`
	Patients     []models.Patient          `yaml:"patients"`
	Queues       map[string][]models.Token `yaml:"queues"`
}

// Default returns the embedded seed.
func Default() (Seed, error) {
	return Parse(defaultSeed)
}

// Load reads a seed file from path, falling back to the embedded seed when
// path is empty.
func Load(path string) (Seed, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	if s.Catalog.Permissions == nil {
		s.Catalog.Permissions = make(map[string]map[string]models.Permission)
	}
	if s.State.Queues == nil {
		s.State.Queues = make(map[string][]models.Token)
	}
	return s, nil
}

// Clone returns a deep copy of the state so a reset never shares slices with
// a live store.
func (s State) Clone() State {
	out := State{
		TokenCounter: s.TokenCounter,
		Patients:     make([]models.Patient, 0, len(s.Patients)),
		Queues:       make(map[string][]models.Token, len(s.Queues)),
	}
	for _, p := range s.Patients {
		out.Patients = append(out.Patients, p.Clone())
	}
	for dept, tokens := range s.Queues {
		out.Queues[dept] = append([]models.Token{}, tokens...)
	}
	return out
}
