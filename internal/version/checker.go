package version

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studiowebux/restcall/internal/client"
	"github.com/studiowebux/restcall/internal/types"
)

const (
	githubAPIURL = "https://api.github.com"
	checkTimeout = 5 * time.Second
)

// GetLatestRelease asks GitHub for the newest release of a repository
type GetLatestRelease struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

func (GetLatestRelease) Routes() []types.Route {
	return []types.Route{types.NewRoute("/repos/{Owner}/{Repo}/releases/latest", "GET")}
}

type GitHubRelease struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// Checker looks up releases through the restcall client
type Checker struct {
	client *client.Client
	owner  string
	repo   string
}

// NewChecker creates a checker for owner/repo against a GitHub API base URL
func NewChecker(apiURL, owner, repo, currentVersion string, log logrus.FieldLogger) (*Checker, error) {
	c, err := client.New(&client.Config{
		BaseURI: apiURL,
		Timeout: checkTimeout,
		Headers: http.Header{
			"User-Agent": {"restcall/" + currentVersion},
			"Accept":     {"application/vnd.github+json"},
		},
		DisableAutoRefreshToken: true,
		Logger:                  log,
	})
	if err != nil {
		return nil, err
	}
	return &Checker{client: c, owner: owner, repo: repo}, nil
}

// Close releases the checker's connections
func (c *Checker) Close() error {
	return c.client.Close()
}

// Check reports whether a release newer than currentVersion exists
func (c *Checker) Check(ctx context.Context, currentVersion string) (available bool, latestVersion string, url string, err error) {
	release, err := client.Do[GitHubRelease](ctx, c.client, http.MethodGet, GetLatestRelease{Owner: c.owner, Repo: c.repo})
	if err != nil {
		var serviceErr *client.ServiceError
		if errors.As(err, &serviceErr) {
			return false, "", "", fmt.Errorf("unexpected status code: %d", serviceErr.StatusCode)
		}
		return false, "", "", fmt.Errorf("failed to fetch latest release: %w", err)
	}

	latestVersion = strings.TrimPrefix(release.TagName, "v")
	currentVersion = strings.TrimPrefix(currentVersion, "v")

	if latestVersion != "" && isNewerVersion(latestVersion, currentVersion) {
		return true, latestVersion, release.HTMLURL, nil
	}

	return false, latestVersion, release.HTMLURL, nil
}

// CheckForUpdate checks if a newer restcall release is available
func CheckForUpdate(ctx context.Context, currentVersion string, log logrus.FieldLogger) (available bool, latestVersion string, url string, err error) {
	checker, err := NewChecker(githubAPIURL, "studiowebux", "restcall", currentVersion, log)
	if err != nil {
		return false, "", "", err
	}
	defer checker.Close()
	return checker.Check(ctx, currentVersion)
}

// isNewerVersion compares two semantic versions and returns true if latest > current
// Supports versions like "0.0.28", "1.2.3", "0.0.29-dev", etc.
func isNewerVersion(latest, current string) bool {
	latestParts := parseVersion(latest)
	currentParts := parseVersion(current)

	maxLen := max(len(latestParts), len(currentParts))
	for len(latestParts) < maxLen {
		latestParts = append(latestParts, 0)
	}
	for len(currentParts) < maxLen {
		currentParts = append(currentParts, 0)
	}

	for i := 0; i < maxLen; i++ {
		if latestParts[i] != currentParts[i] {
			return latestParts[i] > currentParts[i]
		}
	}

	return false
}

// parseVersion parses a version string into integer parts
// Handles pre-release versions by stripping everything after "-" or "+"
func parseVersion(version string) []int {
	if idx := strings.IndexAny(version, "-+"); idx != -1 {
		version = version[:idx]
	}

	parts := strings.Split(version, ".")
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		num, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		result = append(result, num)
	}

	return result
}
