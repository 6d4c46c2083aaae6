// Package config loads roster files: a [config] table with run
// settings plus one table per person holding their preferred and
// unpreferred partner lists.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/jas-dzied/room-matcher/solver"
)

// DefaultPath is used when no roster file is named on the command line.
const DefaultPath = "config.toml"

var (
	ErrMissingConfig    = errors.New("config: missing [config] table")
	ErrMissingSolutions = errors.New("config: [config] has no solutions setting")
	ErrMissingList      = errors.New("config: person is missing a partner list")
	ErrOddPopulation    = errors.New("config: population does not pair up evenly")
	ErrSelfReference    = errors.New("config: person lists themselves")
	ErrUnknownPerson    = errors.New("config: list references an unknown person")
)

// Config is a parsed roster file.
type Config struct {
	// Solutions is how many candidate pairings to sample. The value
	// is passed through as written; a count below one produces no
	// samples and the selection step fails downstream.
	Solutions int
	// Population lists every person in file order.
	Population []string
	// Constraints holds each person's partner lists.
	Constraints solver.Constraints
}

type personTable struct {
	Preferred   []string `toml:"preferred"`
	Unpreferred []string `toml:"unpreferred"`
}

// Load reads and parses the roster file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse parses roster file contents. Every top-level table other than
// [config] is a person; the population keeps the file's table order.
// Each person must carry both a preferred and an unpreferred list, the
// population must pair up evenly, and every listed name must belong to
// a person in the file.
func Parse(data []byte) (*Config, error) {
	var raw map[string]toml.Primitive
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if !md.IsDefined("config") {
		return nil, ErrMissingConfig
	}
	if !md.IsDefined("config", "solutions") {
		return nil, ErrMissingSolutions
	}
	var settings struct {
		Solutions int `toml:"solutions"`
	}
	if err := md.PrimitiveDecode(raw["config"], &settings); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{
		Solutions:   settings.Solutions,
		Constraints: solver.Constraints{},
	}
	for _, key := range md.Keys() {
		if len(key) != 1 || key[0] == "config" {
			continue
		}
		name := key[0]
		if !md.IsDefined(name, "preferred") || !md.IsDefined(name, "unpreferred") {
			return nil, fmt.Errorf("%w: %q", ErrMissingList, name)
		}
		var person personTable
		if err := md.PrimitiveDecode(raw[name], &person); err != nil {
			return nil, fmt.Errorf("config: %s: %w", name, err)
		}
		cfg.Population = append(cfg.Population, name)
		cfg.Constraints[name] = solver.Entry{
			Preferred:   person.Preferred,
			Unpreferred: person.Unpreferred,
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Population)%2 != 0 {
		return fmt.Errorf("%w: %d people", ErrOddPopulation, len(c.Population))
	}
	for _, name := range c.Population {
		entry := c.Constraints[name]
		for _, list := range [][]string{entry.Preferred, entry.Unpreferred} {
			for _, ref := range list {
				if ref == name {
					return fmt.Errorf("%w: %q", ErrSelfReference, name)
				}
				if _, ok := c.Constraints[ref]; !ok {
					return fmt.Errorf("%w: %q lists %q", ErrUnknownPerson, name, ref)
				}
			}
		}
	}
	return nil
}
