package github

import (
	"context"
	"fmt"

	"github.com/briangreenhill/gitreal/plugins"
)

// Host is the source name the GitHub plugin registers under.
const Host = "github.com"

// Plugin implements the plugins.Source interface for GitHub
type Plugin struct {
	client *Client
}

// NewPlugin creates a new GitHub source backed by client
func NewPlugin(client *Client) *Plugin {
	return &Plugin{client: client}
}

// Name returns the host served by this source
func (p *Plugin) Name() string {
	return Host
}

// Fetch retrieves and flattens the target repository
func (p *Plugin) Fetch(ctx context.Context, t plugins.Target) (string, error) {
	content, err := p.client.FetchRepo(ctx, t.Owner, t.Repo, t.Branch)
	if err != nil {
		return "", fmt.Errorf("fetch %s/%s: %w", t.Owner, t.Repo, err)
	}
	return content, nil
}

// Ensure Plugin implements the plugins.Source interface
var _ plugins.Source = (*Plugin)(nil)
