package download

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GameInfoFile is written into every completed install directory.
const GameInfoFile = "vapr_game_info.json"

// GameInfo is the installed-game metadata read by inventory and uninstall.
type GameInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	InstallPath string    `json:"install_path"`
	Executable  string    `json:"executable"`
	Version     string    `json:"version,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
}

// WriteGameInfo stores info in dir, replacing any previous file atomically.
func WriteGameInfo(dir string, info GameInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode game info: %w", err)
	}

	path := filepath.Join(dir, GameInfoFile)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write game info: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("failed to save game info: %w", err)
	}

	return nil
}

// ReadGameInfo loads the metadata stored in dir.
func ReadGameInfo(dir string) (GameInfo, error) {
	var info GameInfo

	data, err := os.ReadFile(filepath.Join(dir, GameInfoFile))
	if err != nil {
		return info, fmt.Errorf("failed to read game info: %w", err)
	}

	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("failed to decode game info: %w", err)
	}

	return info, nil
}
