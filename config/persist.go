package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/canvasledger/cl/errors"
)

// configTemplate is written by Init for new installs. The token is
// deliberately absent: use CL_CANVAS_TOKEN or canvas.token_command.
const configTemplate = `# cl configuration
# Precedence: /etc/cl/config.toml < this file < ./cl.toml < CL_* env vars

[canvas]
# base_url = "https://canvas.example.edu"
# token_command = "op read op://Private/canvas/token"
# page_size = 100
# timeout_seconds = 30
# requests_per_second = 5.0

[database]
# path = "%s"

[ingest]
# include_concluded = false

[display]
# format = "table"
`

// Init writes a starter config file to ~/.config/cl/config.toml.
// Fails if the file already exists unless force is set.
func Init(force bool) (string, error) {
	configPath := UserConfigPath()
	if configPath == "" {
		return "", errors.New("could not determine home directory")
	}

	if _, err := os.Stat(configPath); err == nil && !force {
		return "", errors.Wrapf(errors.ErrConflict, "config file already exists at %s", configPath)
	}

	if err := os.MkdirAll(UserConfigDir(), DefaultDirPermissions); err != nil {
		return "", errors.Wrap(err, "failed to create config directory")
	}

	content := fmt.Sprintf(configTemplate, DefaultDatabasePath())
	if err := os.WriteFile(configPath, []byte(content), DefaultFilePermissions); err != nil {
		return "", errors.Wrap(err, "failed to write config file")
	}

	return configPath, nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Deletion failures shouldn't block a config save
		fmt.Fprintf(os.Stderr, "warning: failed to delete old backup %s: %v\n", back3, err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// loadOrInitializeUserConfig loads the user config file, or returns an empty
// document if it doesn't exist yet
func loadOrInitializeUserConfig() (map[string]interface{}, string, error) {
	configPath := UserConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	if err := os.MkdirAll(UserConfigDir(), DefaultDirPermissions); err != nil {
		return nil, "", errors.Wrap(err, "failed to create config directory")
	}

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse user config")
		}
	} else {
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveUserConfig writes the config to the user config file with backup
func saveUserConfig(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write user config")
	}

	return nil
}

// SetValue updates a single dotted key (e.g. "canvas.base_url") in the user
// config file, preserving everything else. The cached config is reset so the
// next Load observes the change.
func SetValue(key, rawValue string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return errors.NewValidationf("invalid config key %q", key)
	}

	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return err
	}

	// Walk/create nested tables down to the leaf
	parts := strings.Split(key, ".")
	node := config
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = coerceValue(rawValue)

	if err := saveUserConfig(config, configPath); err != nil {
		return err
	}

	Reset()
	return nil
}

// coerceValue converts a CLI-provided string to bool, int, or float where
// unambiguous, leaving everything else a string
func coerceValue(raw string) interface{} {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
