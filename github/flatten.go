package github

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// maxFileSize skips generated or vendored blobs that would crowd out real code.
const maxFileSize = 100_000

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".java": true, ".kt": true, ".scala": true, ".rs": true, ".c": true, ".h": true,
	".cc": true, ".cpp": true, ".hpp": true, ".cs": true, ".rb": true, ".php": true,
	".swift": true, ".m": true, ".sql": true, ".sh": true, ".vue": true, ".svelte": true,
	".dart": true, ".ex": true, ".exs": true, ".md": true, ".toml": true, ".yaml": true,
	".yml": true, ".json": true, ".mod": true, ".gradle": true, ".dockerfile": true,
}

var specialFiles = map[string]bool{
	"Dockerfile": true, "Makefile": true, "requirements.txt": true,
}

var ignoredDirs = map[string]bool{
	".git": true, ".github": true, "node_modules": true, "vendor": true, "dist": true,
	"build": true, "target": true, "out": true, "bin": true, "venv": true, ".venv": true,
	"__pycache__": true, ".next": true, "coverage": true, "testdata": true,
}

var ignoredFiles = map[string]bool{
	"package-lock.json": true, "yarn.lock": true, "pnpm-lock.yaml": true, "go.sum": true,
	"Cargo.lock": true, "poetry.lock": true, "composer.lock": true,
}

// FetchRepo downloads the source files of owner/repo at branch and joins them
// into one document of "--- FILE: <path> ---" sections. An empty branch selects
// the repository's default branch. Files are taken in path order until
// MaxFiles or MaxBytes is reached; a repository with no source files yields "".
func (c *Client) FetchRepo(ctx context.Context, owner, repo, branch string) (string, error) {
	if branch == "" {
		r, err := c.GetRepository(ctx, owner, repo)
		if err != nil {
			return "", err
		}
		branch = r.DefaultBranch
	}

	tree, err := c.GetTree(ctx, owner, repo, branch)
	if err != nil {
		return "", err
	}
	if tree.Truncated {
		c.log.Debug().Str("repo", owner+"/"+repo).Msg("github tree listing truncated")
	}

	files := SelectFiles(tree.Entries, c.maxFiles)
	contents := make([][]byte, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			b, err := c.GetFile(gctx, owner, repo, f.Path, branch)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if errors.Is(err, ErrUnauthorized) {
					return err
				}
				c.log.Debug().Err(err).Str("path", f.Path).Msg("skipping file")
				return nil
			}
			contents[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for i, f := range files {
		if contents[i] == nil {
			continue
		}
		section := "--- FILE: " + f.Path + " ---\n" + string(contents[i]) + "\n\n"
		if sb.Len()+len(section) > c.maxBytes {
			break
		}
		sb.WriteString(section)
	}
	return sb.String(), nil
}

// SelectFiles picks the blobs worth reading, sorted by path and capped at limit.
func SelectFiles(entries []TreeEntry, limit int) []TreeEntry {
	var out []TreeEntry
	for _, e := range entries {
		if e.Type != "blob" || e.Size > maxFileSize || !isSourceFile(e.Path) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func isSourceFile(p string) bool {
	dir, name := path.Split(p)
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if ignoredDirs[part] {
			return false
		}
	}
	if ignoredFiles[name] {
		return false
	}
	if specialFiles[name] {
		return true
	}
	return sourceExtensions[strings.ToLower(path.Ext(name))]
}
