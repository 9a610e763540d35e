package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Release describes an available newer version.
type Release struct {
	Version string
	URL     string
}

// Checker polls GitHub releases and reports when a newer version than
// the running binary is published. Results feed in-thread update
// prompts; the checker itself never restarts anything.
type Checker struct {
	repoSlug string // owner/name
	current  string
	interval time.Duration
	client   *http.Client
	baseURL  string
	onNew    func(Release)

	notified string // last version already surfaced
}

// NewChecker returns a checker that calls onNew at most once per
// discovered version.
func NewChecker(repoSlug, currentVersion string, interval time.Duration, onNew func(Release)) *Checker {
	return &Checker{
		repoSlug: repoSlug,
		current:  currentVersion,
		interval: interval,
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  "https://api.github.com",
		onNew:    onNew,
	}
}

// Run checks immediately, then on the interval, until ctx ends.
func (c *Checker) Run(ctx context.Context) {
	c.checkOnce(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkOnce(ctx)
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context) {
	rel, err := c.Latest(ctx)
	if err != nil {
		slog.Debug("release check failed", "error", err)
		return
	}
	if rel == nil || rel.Version == c.notified {
		return
	}
	slog.Info("new release available", "current", c.current, "latest", rel.Version)
	c.notified = rel.Version
	if c.onNew != nil {
		c.onNew(*rel)
	}
}

// Latest fetches the newest release, or nil when the running binary is
// current. Dev builds never report updates.
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	if c.current == "" || c.current == "dev" {
		return nil, nil
	}
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, c.repoSlug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upgrade: releases api status %d", resp.StatusCode)
	}

	var body struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if !newerVersion(body.TagName, c.current) {
		return nil, nil
	}
	return &Release{Version: body.TagName, URL: body.HTMLURL}, nil
}

// newerVersion compares two "v1.2.3" style versions numerically,
// falling back to string inequality for non-semver tags.
func newerVersion(candidate, current string) bool {
	a := parseVersion(candidate)
	b := parseVersion(current)
	if a == nil || b == nil {
		return candidate != current
	}
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

func parseVersion(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return nil
	}
	out := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		out[i] = n
	}
	return out
}
