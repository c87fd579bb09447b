package cache

import "strings"

// DefaultBranch is the branch component used in keys when no branch was given.
// It keeps "owner/repo" (default branch) distinct from an explicit branch.
const DefaultBranch = "None"

// RepoKey builds the composite key for a repository snapshot.
// No normalization is applied; callers decide whether to fold case or trim.
func RepoKey(owner, repo, branch string) string {
	if branch == "" {
		branch = DefaultBranch
	}
	return strings.Join([]string{owner, repo, branch}, "/")
}
