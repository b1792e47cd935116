// internal/simulate/scenario.go
package simulate

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of window-system and navigation events.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one action. Tab selects a tab by the order it was opened
// (1 is the first); zero means the most recently opened tab.
type Step struct {
	Tab int `yaml:"tab,omitempty"`

	NewTab     string        `yaml:"new_tab,omitempty"`
	LoadURL    string        `yaml:"load_url,omitempty"`
	Traverse   int           `yaml:"traverse,omitempty"`
	CancelLoad bool          `yaml:"cancel_load,omitempty"`
	CloseTab   bool          `yaml:"close_tab,omitempty"`
	Resize     *Size         `yaml:"resize,omitempty"`
	HiDPI      float32       `yaml:"hidpi,omitempty"`
	Zoom       float32       `yaml:"zoom,omitempty"`
	PinchZoom  float32       `yaml:"pinch_zoom,omitempty"`
	ResetZoom  bool          `yaml:"reset_zoom,omitempty"`
	Wait       time.Duration `yaml:"wait,omitempty"`
}

// Size is a window size in device pixels.
type Size struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.NewTab != "", s.LoadURL != "", s.Traverse != 0,
		s.CancelLoad, s.CloseTab, s.Resize != nil, s.HiDPI != 0,
		s.Zoom != 0, s.PinchZoom != 0, s.ResetZoom, s.Wait != 0,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks every step holds exactly one action.
func (sc *Scenario) Validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("scenario has no steps")
	}
	var errs []error
	for i, step := range sc.Steps {
		if n := step.actions(); n != 1 {
			errs = append(errs, fmt.Errorf("step %d: expected exactly one action, got %d", i+1, n))
		}
		if step.Tab < 0 {
			errs = append(errs, fmt.Errorf("step %d: tab index cannot be negative", i+1))
		}
	}
	return errors.Join(errs...)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// DefaultScenario exercises resizes across live, parked and loading pipelines.
const DefaultScenario = `
name: default
steps:
  - new_tab: https://www.example.com/
  - wait: 100ms
  - resize: {width: 1280, height: 720}
  - load_url: https://news.example.org/
  - resize: {width: 1024, height: 768}
  - wait: 100ms
  - traverse: -1
  - hidpi: 2
  - zoom: 1.5
  - pinch_zoom: 2
  - reset_zoom: true
  - load_url: https://www.example.net/
  - cancel_load: true
  - close_tab: true
`
