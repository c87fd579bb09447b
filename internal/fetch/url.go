package fetch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/briangreenhill/gitreal/plugins"
)

var namePattern = regexp.MustCompile(`^[\w.-]+$`)

// ParseRepoURL extracts host, owner, repository and optional branch from a
// repository URL such as https://github.com/owner/repo/tree/branch.
// The scheme and "www." prefix are optional; a trailing ".git" is dropped.
func ParseRepoURL(raw string) (plugins.Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return plugins.Target{}, fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return plugins.Target{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return plugins.Target{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidURL, u.Hostname())
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return plugins.Target{}, fmt.Errorf("%w: expected %s/<owner>/<repo>", ErrInvalidURL, host)
	}

	t := plugins.Target{
		Host:  host,
		Owner: parts[0],
		Repo:  strings.TrimSuffix(parts[1], ".git"),
	}
	if !namePattern.MatchString(t.Owner) || !namePattern.MatchString(t.Repo) {
		return plugins.Target{}, fmt.Errorf("%w: bad owner or repository name", ErrInvalidURL)
	}

	if len(parts) > 3 && parts[2] == "tree" {
		t.Branch = parts[3]
	}
	return t, nil
}
