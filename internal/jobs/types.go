// Package jobs defines background tasks that warm the repository cache.
package jobs

const (
	TaskPrefetchRepo = "repo:prefetch"
	QueuePrefetch    = "prefetch"
)

type PrefetchPayload struct {
	URL string `json:"url"`
}
