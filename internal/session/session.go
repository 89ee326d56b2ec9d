package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/config"
	"github.com/studiowebux/restcall/internal/types"
)

// Manager handles session and profile management
type Manager struct {
	sessionPath  string
	profilesPath string

	mu       sync.Mutex
	session  *types.Session
	profiles []types.Profile
}

// NewManager creates a session manager for the configured session and profiles files
func NewManager() *Manager {
	return NewManagerWithPaths(config.GetSessionFilePath(), config.GetProfilesFilePath())
}

// NewManagerWithPaths creates a session manager for explicit files
func NewManagerWithPaths(sessionPath, profilesPath string) *Manager {
	return &Manager{
		sessionPath:  sessionPath,
		profilesPath: profilesPath,
		session:      defaultSession(),
	}
}

// Load loads session and profiles from disk
func (m *Manager) Load() error {
	if err := m.LoadSession(); err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if err := m.LoadProfiles(); err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	return nil
}

// LoadSession loads the session file
func (m *Manager) LoadSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.sessionPath)
	if errors.Is(err, fs.ErrNotExist) {
		m.session = defaultSession()
		return nil
	}
	if err != nil {
		return err
	}

	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("failed to parse session file: %w", err)
	}
	if session.HistoryEnabled == nil {
		enabled := true
		session.HistoryEnabled = &enabled
	}
	if session.Tokens == nil {
		session.Tokens = make(map[string]types.SessionToken)
	}

	m.session = &session
	return nil
}

// SaveSession saves the session to disk
func (m *Manager) SaveSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSession()
}

func (m *Manager) saveSession() error {
	data, err := json.MarshalIndent(m.session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(m.sessionPath, data, config.FilePermissions); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// LoadProfiles loads the profiles file
func (m *Manager) LoadProfiles() error {
	profiles, err := config.LoadProfiles(m.profilesPath)
	if errors.Is(err, fs.ErrNotExist) {
		profiles = []types.Profile{defaultProfile()}
	} else if err != nil {
		return err
	}

	m.mu.Lock()
	m.profiles = profiles
	m.mu.Unlock()
	return nil
}

// SaveProfiles saves the profiles to disk
func (m *Manager) SaveProfiles() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return config.SaveProfiles(m.profilesPath, m.profiles)
}

// GetProfiles returns all profiles
func (m *Manager) GetProfiles() []types.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Profile(nil), m.profiles...)
}

// GetActiveProfile returns the currently active profile, or the first one when the
// active profile is unset or gone
func (m *Manager) GetActiveProfile() types.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.profiles {
		if p.Name == m.session.ActiveProfile {
			return p
		}
	}
	if len(m.profiles) > 0 {
		return m.profiles[0]
	}
	return defaultProfile()
}

// GetProfile returns the named profile, or the active one when name is empty
func (m *Manager) GetProfile(name string) (types.Profile, error) {
	if name == "" {
		return m.GetActiveProfile(), nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := config.FindProfile(m.profiles, name)
	if err != nil {
		return types.Profile{}, err
	}
	return *p, nil
}

// SetActiveProfile sets the active profile by name
func (m *Manager) SetActiveProfile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := config.FindProfile(m.profiles, name); err != nil {
		return err
	}
	m.session.ActiveProfile = name
	return m.saveSession()
}

// AddProfile adds a new profile
func (m *Manager) AddProfile(profile types.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := config.FindProfile(m.profiles, profile.Name); err == nil {
		return fmt.Errorf("profile already exists: %s", profile.Name)
	}
	m.profiles = append(m.profiles, profile)
	return config.SaveProfiles(m.profilesPath, m.profiles)
}

// DeleteProfile deletes a profile by name along with its stored tokens
func (m *Manager) DeleteProfile(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.profiles {
		if m.profiles[i].Name == name {
			m.profiles = append(m.profiles[:i], m.profiles[i+1:]...)
			if err := config.SaveProfiles(m.profilesPath, m.profiles); err != nil {
				return err
			}
			delete(m.session.Tokens, name)
			return m.saveSession()
		}
	}
	return fmt.Errorf("profile not found: %s", name)
}

// Token returns the credentials stored for a profile
func (m *Manager) Token(profile string) (types.SessionToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.session.Tokens[profile]
	return token, ok
}

// SetToken stores the credentials of a profile
func (m *Manager) SetToken(profile string, token types.SessionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setToken(profile, token)
}

func (m *Manager) setToken(profile string, token types.SessionToken) error {
	token.UpdatedAt = time.Now().UTC()
	if m.session.Tokens == nil {
		m.session.Tokens = make(map[string]types.SessionToken)
	}
	m.session.Tokens[profile] = token
	return m.saveSession()
}

// ClearToken forgets the credentials of a profile
func (m *Manager) ClearToken(profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.session.Tokens, profile)
	return m.saveSession()
}

// Bind seeds cfg with the tokens stored for profile and persists every access token
// the client obtains by refreshing. Tokens already set on cfg win over stored ones.
func (m *Manager) Bind(cfg *client.Config, profile string) {
	if token, ok := m.Token(profile); ok {
		if cfg.BearerToken == "" {
			cfg.BearerToken = token.BearerToken
		}
		if cfg.RefreshToken == "" {
			cfg.RefreshToken = token.RefreshToken
		}
		if cfg.SessionID == "" {
			cfg.SessionID = token.SessionID
		}
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	next := cfg.OnTokenRefreshed
	cfg.OnTokenRefreshed = func(accessToken string) {
		m.mu.Lock()
		token := m.session.Tokens[profile]
		token.BearerToken = accessToken
		err := m.setToken(profile, token)
		m.mu.Unlock()
		if err != nil {
			log.WithError(err).WithField("profile", profile).Warn("failed to persist refreshed token")
		}
		if next != nil {
			next(accessToken)
		}
	}
}

// Capture stores the credentials a client currently holds for profile
func (m *Manager) Capture(c *client.Client, profile string) error {
	token := types.SessionToken{
		BearerToken:  c.BearerToken(),
		RefreshToken: c.RefreshToken(),
		SessionID:    c.SessionID(),
	}
	if token.BearerToken == "" && token.RefreshToken == "" && token.SessionID == "" {
		return nil
	}
	return m.SetToken(profile, token)
}

// IsHistoryEnabled returns whether calls made with profile are recorded
func (m *Manager) IsHistoryEnabled(profile types.Profile) bool {
	if profile.HistoryEnabled != nil {
		return *profile.HistoryEnabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.HistoryEnabled == nil {
		return true
	}
	return *m.session.HistoryEnabled
}

// SetHistoryEnabled sets whether history tracking is enabled
func (m *Manager) SetHistoryEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.HistoryEnabled = &enabled
	return m.saveSession()
}

func defaultSession() *types.Session {
	enabled := true
	return &types.Session{
		HistoryEnabled: &enabled,
		Tokens:         make(map[string]types.SessionToken),
	}
}

func defaultProfile() types.Profile {
	return types.Profile{
		Name:    "Default",
		BaseURL: "http://localhost:8080",
		Workdir: "requests",
		Headers: make(map[string]string),
	}
}
