package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	defaults "bootmedia/infra/sources"
)

// ImageSource is a curated, well-known installer image an operator can pull
// by URL without hunting down mirrors.
type ImageSource struct {
	Name         string `yaml:"name" json:"name"`
	OSType       string `yaml:"os_type" json:"os_type"`
	Version      string `yaml:"version" json:"version,omitempty"`
	Architecture string `yaml:"architecture" json:"architecture"`
	URL          string `yaml:"url" json:"url"`
}

type sourcesFile struct {
	Sources []ImageSource `yaml:"sources"`
}

// LoadSources reads the curated source list from a YAML file. An empty path
// falls back to the list embedded in the binary.
func LoadSources(path string) ([]ImageSource, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = defaults.Files.ReadFile("sources.yaml")
		if err != nil {
			return nil, fmt.Errorf("read embedded sources: %w", err)
		}
	} else {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sources file: %w", err)
		}
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	for i, src := range f.Sources {
		if src.Name == "" || src.URL == "" {
			return nil, fmt.Errorf("sources file entry %d: name and url are required", i)
		}
		if src.Architecture == "" {
			f.Sources[i].Architecture = "amd64"
		}
	}

	return f.Sources, nil
}
