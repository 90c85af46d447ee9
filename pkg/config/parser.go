package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format represents the configuration file format type.
type Format uint8

const (
	// FormatYAML represents a config written in YAML format.
	FormatYAML Format = iota

	// FormatJSON represents a config written in JSON format. JSON documents are decoded as YAML flow documents.
	FormatJSON
)

// ParseFile reads the given file and parses it according to its extension.
// References to environment variables, eg: ${GITHUB_TOKEN}, are expanded before parsing.
func ParseFile(filename string) (Config, error) {
	f, err := GetTypeFromFileExtension(filename)
	if err != nil {
		return Config{}, err
	}

	b, err := os.ReadFile(filepath.Clean(filename))
	if err != nil {
		return Config{}, err
	}

	return Parse(f, []byte(os.ExpandEnv(string(b))))
}

// Parse decodes b on top of the default configuration.
func Parse(f Format, b []byte) (cfg Config, err error) {
	// An empty document never reaches UnmarshalYAML
	cfg = New()

	switch f {
	case FormatYAML, FormatJSON:
		if err = yaml.Unmarshal(b, &cfg); err != nil {
			return
		}
	default:
		return cfg, fmt.Errorf("unsupported config type '%+v'", f)
	}

	for _, u := range []*string{
		&cfg.Deployments.GitHub.URL,
		&cfg.Deployments.GitLab.URL,
		&cfg.Incidents.PagerDuty.URL,
	} {
		*u = strings.TrimSuffix(*u, "/")
	}

	return
}

// GetTypeFromFileExtension returns the Format based on the file extension.
func GetTypeFromFileExtension(filename string) (f Format, err error) {
	switch ext := filepath.Ext(filename); ext {
	case ".yml", ".yaml":
		f = FormatYAML
	case ".json":
		f = FormatJSON
	default:
		err = fmt.Errorf("unsupported config type '%s', expected .y(a)ml or .json", ext)
	}
	return
}
