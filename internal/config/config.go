package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner only)
	FilePermissions = 0600
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

const (
	sessionFileName      = ".session.json"
	profilesFileName     = ".profiles.json"
	profilesYAMLFileName = "profiles.yaml"
)

var (
	// ConfigDir is the global configuration directory (~/.restcall)
	ConfigDir string

	// RequestsDir is the default directory of request files
	RequestsDir string

	// DatabasePath is the SQLite database file for call history
	DatabasePath string

	// SessionFile is the session state file
	SessionFile string

	// ProfilesFile is the profiles configuration file
	ProfilesFile string
)

// Initialize sets up the configuration directories and files
// It creates ~/.restcall/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".restcall"))
}

// InitializeAt sets up the configuration layout under dir
func InitializeAt(dir string) error {
	ConfigDir = dir
	RequestsDir = filepath.Join(ConfigDir, "requests")
	DatabasePath = filepath.Join(ConfigDir, "restcall.db")
	SessionFile = filepath.Join(ConfigDir, sessionFileName)
	ProfilesFile = filepath.Join(ConfigDir, profilesFileName)

	for _, d := range []string{ConfigDir, RequestsDir} {
		if err := os.MkdirAll(d, DirPermissions); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}

	if _, err := os.Stat(SessionFile); os.IsNotExist(err) {
		defaultSession := []byte(`{"historyEnabled":true}`)
		if err := os.WriteFile(SessionFile, defaultSession, FilePermissions); err != nil {
			return fmt.Errorf("failed to create session file: %w", err)
		}
	}

	// A YAML profiles file replaces the JSON one, so only seed when neither exists
	yamlProfiles := filepath.Join(ConfigDir, profilesYAMLFileName)
	if !exists(ProfilesFile) && !exists(yamlProfiles) {
		defaultProfiles := []byte(`[
  // Every profile needs a name and an absolute base URL
  {"name": "Default", "baseUrl": "http://localhost:8080", "workdir": "requests"}
]
`)
		if err := os.WriteFile(ProfilesFile, defaultProfiles, FilePermissions); err != nil {
			return fmt.Errorf("failed to create profiles file: %w", err)
		}
	}

	return nil
}

// GetWorkingDirectory returns the request files directory for a profile
// Falls back to the global requests directory if the profile workdir is not set
func GetWorkingDirectory(profileWorkdir string) (string, error) {
	if profileWorkdir == "" {
		return RequestsDir, nil
	}

	// Expand tilde to home directory
	if strings.HasPrefix(profileWorkdir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		profileWorkdir = filepath.Join(homeDir, profileWorkdir[2:])
	}

	if filepath.IsAbs(profileWorkdir) {
		return profileWorkdir, nil
	}

	workdir := filepath.Join(ConfigDir, profileWorkdir)
	if err := os.MkdirAll(workdir, DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create working directory %s: %w", workdir, err)
	}
	return workdir, nil
}

// LocalConfigExists checks if the current directory carries its own session or profiles
func LocalConfigExists() bool {
	return exists(sessionFileName) || exists(profilesFileName) || exists(profilesYAMLFileName)
}

// GetSessionFilePath returns the session file path (local or global)
func GetSessionFilePath() string {
	if exists(sessionFileName) {
		return sessionFileName
	}
	return SessionFile
}

// GetProfilesFilePath returns the profiles file path.
// Local files win over global ones; within a directory YAML wins over JSON.
func GetProfilesFilePath() string {
	for _, candidate := range []string{
		profilesYAMLFileName,
		profilesFileName,
		filepath.Join(ConfigDir, profilesYAMLFileName),
	} {
		if exists(candidate) {
			return candidate
		}
	}
	return ProfilesFile
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
