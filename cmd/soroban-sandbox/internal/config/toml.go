package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/pelletier/go-toml"
)

const maxLineWidth = 80

func parseToml(r io.Reader, strict bool, cfg *Config) error {
	tree, err := toml.LoadReader(r)
	if err != nil {
		return err
	}

	validKeys := map[string]struct{}{}
	for _, option := range cfg.options() {
		key, ok := option.getTomlKey()
		if !ok {
			continue
		}
		validKeys[key] = struct{}{}
		value := tree.Get(key)
		if value == nil {
			// not found
			continue
		}
		if err := option.setValue(value); err != nil {
			return err
		}
	}

	if cfg.Strict || strict {
		for _, key := range tree.Keys() {
			if _, ok := validKeys[key]; !ok {
				return fmt.Errorf("invalid config: unexpected entry specified in toml file %q", key)
			}
		}
	}

	return nil
}

// MarshalTOML renders the current configuration as a commented TOML file.
func (cfg *Config) MarshalTOML() ([]byte, error) {
	tree, err := toml.TreeFromMap(map[string]any{})
	if err != nil {
		return nil, err
	}

	for _, option := range cfg.options() {
		key, ok := option.getTomlKey()
		if !ok {
			continue
		}

		value, err := option.marshalTOML()
		if err != nil {
			return nil, err
		}

		// Comments are multi-line, so wrap them at the line width
		comment := wordWrap(option.Usage, maxLineWidth)
		tree.SetWithComment(key, strings.Join(comment, "\n"), false, value)
	}

	return tree.Marshal()
}

// wordWrap splits text into lines of at most width characters. Words longer
// than width get a line of their own.
func wordWrap(text string, width int) []string {
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) > width:
			lines = append(lines, line)
			line = word
		default:
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
