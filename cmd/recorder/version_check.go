package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	githubRepoOwner = "ssk-wh"
	githubRepoName  = "ffmpeg-demo"
	githubAPIURL    = "https://api.github.com"
)

// GitHubRelease represents a GitHub release
type GitHubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

func newVersionCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check-update",
		Short: "Check if a new version is available",
		Long:  `Queries GitHub releases to check if a newer version of the recorder is available.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			return reportUpdate(ctx, cmd.OutOrStdout(), githubAPIURL, version)
		},
	}
}

func reportUpdate(ctx context.Context, w io.Writer, baseURL, current string) error {
	if current == "" {
		current = "dev"
	}
	fmt.Fprintf(w, "Current version: %s\n", current)

	release, err := getLatestRelease(ctx, baseURL)
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if release == nil {
		fmt.Fprintln(w, "No releases found.")
		return nil
	}

	fmt.Fprintf(w, "Latest version:  %s\n", release.TagName)
	if isNewerVersion(current, release.TagName) {
		fmt.Fprintf(w, "A new version is available: %s\n", release.HTMLURL)
	} else {
		fmt.Fprintln(w, "You are running the latest version.")
	}
	return nil
}

// getLatestRelease returns nil without error when the repository has no
// published release.
func getLatestRelease(ctx context.Context, baseURL string) (*GitHubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", baseURL, githubRepoOwner, githubRepoName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", githubRepoName, version))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, err
	}
	return &release, nil
}

// isNewerVersion compares dotted versions numerically; a dev build is older
// than any release.
func isNewerVersion(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")

	if current == "dev" || current == "" {
		return true
	}

	currentParts := strings.Split(current, ".")
	latestParts := strings.Split(latest, ".")
	for len(currentParts) < 3 {
		currentParts = append(currentParts, "0")
	}
	for len(latestParts) < 3 {
		latestParts = append(latestParts, "0")
	}

	for i := 0; i < 3; i++ {
		c, l := leadingNumber(currentParts[i]), leadingNumber(latestParts[i])
		if l != c {
			return l > c
		}
	}
	return false
}

// leadingNumber parses the digits before any pre-release suffix ("3-rc1" → 3).
func leadingNumber(s string) int {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
