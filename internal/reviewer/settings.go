package reviewer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// Local reviewer defaults.
const (
	DefaultChannel = "preview"
	DefaultModel   = "gemini-3.1-pro-preview"
)

// Settings configure the gemini-cli reviewer. The file may contain comments.
type Settings struct {
	GeminiCLIChannel string `json:"gemini_cli_channel"`
	LocalModel       string `json:"local_model"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{GeminiCLIChannel: DefaultChannel, LocalModel: DefaultModel}
}

// LoadSettings reads path over the defaults. A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read reviewer settings: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &s); err != nil {
		return DefaultSettings(), fmt.Errorf("parse reviewer settings %s: %w", path, err)
	}
	if s.GeminiCLIChannel == "" {
		s.GeminiCLIChannel = DefaultChannel
	}
	if s.LocalModel == "" {
		s.LocalModel = DefaultModel
	}
	return s, nil
}
