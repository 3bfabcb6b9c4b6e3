// Package presets reads browser configuration presets from YAML files.
//
// A preset file is either a list of configs or a mapping with a
// browser_configs key:
//
//	browser_configs:
//	  - name: Desktop Chrome
//	    channel: chrome
//	    viewport: {width: 1920, height: 1080}
//	  - name: Berlin mobile
//	    user_agent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) ..."
//	    viewport: {width: 390, height: 844}
//	    geolocation: {latitude: 52.52, longitude: 13.405}
package presets

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/husmancristian/TA_CONSOLE/pkg/models"
)

const (
	DefaultViewportWidth  = 1920
	DefaultViewportHeight = 1080
)

type file struct {
	BrowserConfigs []models.BrowserConfig `yaml:"browser_configs"`
}

// Load loads presets from a file.
func Load(path string) ([]models.BrowserConfig, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided preset file
	if err != nil {
		return nil, err
	}
	configs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return configs, nil
}

// Parse decodes and validates presets. Missing viewports get the 1920x1080
// default; names must be unique within one file.
func Parse(data []byte) ([]models.BrowserConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty preset file")
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	if len(root.Content) == 0 {
		return nil, errors.New("empty preset file")
	}

	var configs []models.BrowserConfig
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&configs); err != nil {
			return nil, err
		}
	case yaml.MappingNode:
		var f file
		if err := doc.Decode(&f); err != nil {
			return nil, err
		}
		configs = f.BrowserConfigs
	default:
		return nil, fmt.Errorf("line %d: expected a list of browser configs", doc.Line)
	}
	if len(configs) == 0 {
		return nil, errors.New("no browser configs found")
	}

	seen := make(map[string]bool, len(configs))
	for i := range configs {
		bc := &configs[i]
		if bc.Viewport == nil {
			bc.Viewport = &models.Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
		}
		if err := bc.Validate(); err != nil {
			return nil, fmt.Errorf("browser config #%d: %w", i+1, err)
		}
		if seen[bc.Name] {
			return nil, fmt.Errorf("browser config #%d: duplicate name %q", i+1, bc.Name)
		}
		seen[bc.Name] = true
	}
	return configs, nil
}
