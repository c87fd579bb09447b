package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/briangreenhill/gitreal/cache"
	"github.com/briangreenhill/gitreal/github"
	"github.com/briangreenhill/gitreal/internal/fetch"
	"github.com/briangreenhill/gitreal/plugins"
)

// fetchFlags holds the flags for the fetch command
type fetchFlags struct {
	repeat   int
	maxSize  int
	ttl      time.Duration
	minBytes int
	apiURL   string
	token    string
	maxFiles int
	maxBytes int
	stats    bool
}

func newFetchCmd(root *rootFlags) *cobra.Command {
	var opts fetchFlags

	cmd := &cobra.Command{
		Use:   "fetch <github-url>",
		Short: "Fetch a repository through the cache",
		Long: `Fetch a repository and print its flattened contents.

With --repeat the same URL is requested again through the same cache,
which shows the hit/miss behaviour of the cache in the log output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, root, opts, args[0])
		},
	}

	cmd.Flags().IntVarP(&opts.repeat, "repeat", "n", 1, "Number of times to request the repository")
	cmd.Flags().IntVar(&opts.maxSize, "max-size", 50, "Maximum number of cached repositories")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "Time to live of a cached repository")
	cmd.Flags().IntVar(&opts.minBytes, "min-bytes", fetch.DefaultMinContentBytes, "Smallest content worth caching")
	cmd.Flags().StringVar(&opts.apiURL, "api-url", github.DefaultBaseURL, "GitHub API base URL")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("GITHUB_TOKEN"), "GitHub token (defaults to $GITHUB_TOKEN)")
	cmd.Flags().IntVar(&opts.maxFiles, "max-files", github.DefaultMaxFiles, "Maximum number of files to include")
	cmd.Flags().IntVar(&opts.maxBytes, "max-bytes", github.DefaultMaxBytes, "Maximum size of the flattened repository")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Write cache statistics to stderr as YAML")
	return cmd
}

func runFetch(cmd *cobra.Command, root *rootFlags, opts fetchFlags, rawURL string) error {
	if opts.repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", opts.repeat)
	}
	log, err := root.logger(cmd)
	if err != nil {
		return err
	}

	c, err := cache.NewBounded[string](opts.maxSize, opts.ttl, cache.WithLogger(log))
	if err != nil {
		return err
	}
	gh, err := github.New(
		github.WithBaseURL(opts.apiURL),
		github.WithToken(opts.token),
		github.WithMaxFiles(opts.maxFiles),
		github.WithMaxBytes(opts.maxBytes),
		github.WithLogger(log),
	)
	if err != nil {
		return err
	}
	sources := plugins.NewRegistry()
	sources.Register(github.NewPlugin(gh))
	orch := fetch.New(c, sources, fetch.WithMinContentBytes(opts.minBytes), fetch.WithLogger(log))

	var content string
	for i := 1; i <= opts.repeat; i++ {
		start := time.Now()
		res, err := orch.FetchURL(cmd.Context(), rawURL)
		if err != nil {
			return err
		}
		log.Info().
			Int("attempt", i).
			Str("key", res.Key).
			Bool("hit", res.Cached).
			Int("bytes", len(res.Content)).
			Dur("duration", time.Since(start)).
			Msg("fetch")
		content = res.Content
	}

	if _, err := fmt.Fprint(cmd.OutOrStdout(), content); err != nil {
		return err
	}
	if opts.stats {
		enc := yaml.NewEncoder(cmd.ErrOrStderr())
		defer enc.Close() //nolint:errcheck
		return enc.Encode(orch.Stats())
	}
	return nil
}
