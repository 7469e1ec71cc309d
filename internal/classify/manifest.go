package classify

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest describes a model artifact. It ships next to the weights so the
// input shape is read from the artifact rather than assumed.
type Manifest struct {
	Version       string        `json:"version"`
	Input         Shape         `json:"input"`
	Normalization Normalization `json:"normalization"`
	Labels        []int64       `json:"labels"`
}

func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse model manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) Validate() error {
	if !m.Input.Valid() {
		return fmt.Errorf("model manifest: invalid input shape %+v", m.Input)
	}
	switch m.Input.Channels {
	case 1, 3, 4:
	default:
		return fmt.Errorf("model manifest: unsupported channel count %d", m.Input.Channels)
	}
	switch m.Normalization {
	case "":
		m.Normalization = NormalizeUnit
	case NormalizeUnit, NormalizeSigned:
	default:
		return fmt.Errorf("model manifest: unknown normalization %q", m.Normalization)
	}
	return nil
}
