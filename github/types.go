package github

import (
	"encoding/base64"
	"fmt"
	"strings"
)

type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

type Tree struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type TreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob", "tree" or "commit"
	Size int    `json:"size"`
}

type FileContent struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Decode returns the raw file bytes. The API wraps base64 content at 60 columns.
func (f FileContent) Decode() ([]byte, error) {
	switch f.Encoding {
	case "base64":
		b, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(f.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Path, err)
		}
		return b, nil
	case "", "utf-8":
		return []byte(f.Content), nil
	default:
		return nil, fmt.Errorf("decode %s: unsupported encoding %q", f.Path, f.Encoding)
	}
}
