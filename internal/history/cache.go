package history

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a listing is reused without invalidation.
const DefaultCacheTTL = 10 * time.Minute

type cachedList struct {
	commits []Commit
	expires time.Time
}

// Cache memoises a Source per repository. Refresh and webhook triggers call
// Invalidate so the next run lists fresh history.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	lists map[string]cachedList
	files map[string]map[string][]string // repo -> hash -> files
}

var _ Source = (*Cache)(nil)

// NewCache wraps source. A non-positive ttl selects DefaultCacheTTL.
func NewCache(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		lists:  make(map[string]cachedList),
		files:  make(map[string]map[string][]string),
	}
}

// ListSchematicCommits returns the cached listing or fetches a fresh one.
func (c *Cache) ListSchematicCommits(ctx context.Context, repo string) ([]Commit, error) {
	key := RepoKey(repo)
	c.mu.Lock()
	entry, ok := c.lists[key]
	c.mu.Unlock()
	if ok && c.now().Before(entry.expires) {
		return append([]Commit(nil), entry.commits...), nil
	}

	commits, err := c.source.ListSchematicCommits(ctx, repo)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lists[key] = cachedList{commits: commits, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return append([]Commit(nil), commits...), nil
}

// ChangedFiles caches per-commit file lists; commits are immutable so these
// only go away on Invalidate.
func (c *Cache) ChangedFiles(ctx context.Context, repo, hash string) ([]string, error) {
	key := RepoKey(repo)
	c.mu.Lock()
	if files, ok := c.files[key][hash]; ok {
		c.mu.Unlock()
		return append([]string(nil), files...), nil
	}
	c.mu.Unlock()

	files, err := c.source.ChangedFiles(ctx, repo, hash)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.files[key] == nil {
		c.files[key] = make(map[string][]string)
	}
	c.files[key][hash] = files
	c.mu.Unlock()
	return append([]string(nil), files...), nil
}

// LatestCommit derives the newest commit from the cached listing.
func (c *Cache) LatestCommit(ctx context.Context, repo string) (*Commit, error) {
	commits, err := c.ListSchematicCommits(ctx, repo)
	if err != nil {
		return nil, err
	}
	if len(commits) == 0 {
		return nil, nil
	}
	latest := commits[len(commits)-1]
	return &latest, nil
}

// Invalidate drops everything cached for repo.
func (c *Cache) Invalidate(repo string) {
	key := RepoKey(repo)
	c.mu.Lock()
	delete(c.lists, key)
	delete(c.files, key)
	c.mu.Unlock()
}
