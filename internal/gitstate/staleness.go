// Package gitstate detects whether the underlying repository has moved
// past what the engine last indexed. It is a cache-invalidation gate, not
// a git client: one cached HEAD, compared against the live HEAD, gates all
// expensive re-index and re-embed work.
package gitstate

import (
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas-ai/memcore/internal/store"
)

// runGit is a package-level var to allow test injection.
var runGit = func(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Commit is one entry from the repository log.
type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Subject string    `json:"subject"`
}

// Config holds checker configuration.
type Config struct {
	// PrimedAtStartup controls the very first HasNewCommits call. When
	// true the checker assumes a sync already happened at startup and the
	// first call primes the cache and reports false; when false the first
	// observed HEAD counts as new.
	PrimedAtStartup bool
}

// DefaultConfig matches the historical behavior: assume a startup sync.
func DefaultConfig() Config {
	return Config{PrimedAtStartup: true}
}

// Checker compares the live HEAD against a cached one. Absence of a
// repository degrades every method to an empty or false result.
type Checker struct {
	mu         sync.Mutex
	repoDir    string
	cfg        Config
	st         *store.Store
	logger     *zap.Logger
	cachedHead string
	havePrimed bool
	lastCheck  time.Time
}

// NewChecker creates a Checker for repoDir. A previously persisted HEAD is
// used to seed the cache so restarts keep the single-edge behavior.
func NewChecker(repoDir string, st *store.Store, cfg Config, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Checker{
		repoDir: repoDir,
		cfg:     cfg,
		st:      st,
		logger:  logger.With(zap.String("component", "gitstate")),
	}
	if st != nil {
		if rs, err := st.GetRepoState(); err == nil && rs != nil {
			c.cachedHead = rs.HeadCommit
			c.havePrimed = true
		}
	}
	return c
}

// CurrentHead returns the live HEAD commit, or "" when repoDir is not a
// repository.
func (c *Checker) CurrentHead() string {
	head, err := runGit(c.repoDir, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return head
}

// HasNewCommits reports whether HEAD moved since the last observation,
// updating the cache as a side effect. Repeated calls without an
// intervening HEAD change report false: the signal fires once per edge,
// not once per poll.
func (c *Checker) HasNewCommits() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastCheck = time.Now()
	head := c.CurrentHead()
	if head == "" {
		return false
	}

	if !c.havePrimed {
		c.havePrimed = true
		changed := !c.cfg.PrimedAtStartup
		c.cachedHead = head
		return changed
	}

	if head == c.cachedHead {
		return false
	}
	c.logger.Debug("repository moved",
		zap.String("from", c.cachedHead),
		zap.String("to", head))
	c.cachedHead = head
	return true
}

// UpdateCachedHead marks a completed sync: it records the live HEAD both
// in memory and in the store's single-row repo state.
func (c *Checker) UpdateCachedHead() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.CurrentHead()
	if head == "" {
		return nil
	}
	c.cachedHead = head
	c.havePrimed = true
	if c.st != nil {
		return c.st.SetRepoState(head)
	}
	return nil
}

// ShouldCheck is an elapsed-time gate so callers avoid polling git more
// often than threshold.
func (c *Checker) ShouldCheck(threshold time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheck.IsZero() || time.Since(c.lastCheck) >= threshold
}

// LogRange lists commits in since..until, empty outside a repository.
func (c *Checker) LogRange(since, until string) []Commit {
	rev := "HEAD"
	if since != "" && until != "" {
		rev = since + ".." + until
	} else if since != "" {
		rev = since + "..HEAD"
	}
	out, err := runGit(c.repoDir, "log", "--pretty=format:%H%x09%an%x09%aI%x09%s", rev)
	if err != nil {
		return nil
	}
	return parseLog(out)
}

// FileHistory lists commits touching one path, empty outside a repository.
func (c *Checker) FileHistory(path string) []Commit {
	out, err := runGit(c.repoDir, "log", "--pretty=format:%H%x09%an%x09%aI%x09%s", "--follow", "--", path)
	if err != nil {
		return nil
	}
	return parseLog(out)
}

func parseLog(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 4)
		if len(parts) < 4 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, parts[2])
		commits = append(commits, Commit{
			Hash:    parts[0],
			Author:  parts[1],
			Date:    date,
			Subject: parts[3],
		})
	}
	return commits
}
