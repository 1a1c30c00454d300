package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"docjobs/internal/apperrors"
	"docjobs/internal/job"
)

// Catalog is an in-memory job.Catalog.
type Catalog struct {
	mu     sync.RWMutex
	repos  map[string]*job.Repository
	byName map[string]string // fullName -> id
	users  map[string]*job.User
}

// catalogFile is the YAML seed format:
//
//	repositories:
//	  - id: repo-1
//	    fullName: acme/widgets
//	users:
//	  - id: user-1
//	    name: Ada
type catalogFile struct {
	Repositories []job.Repository `yaml:"repositories"`
	Users        []job.User       `yaml:"users"`
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		repos:  make(map[string]*job.Repository),
		byName: make(map[string]string),
		users:  make(map[string]*job.User),
	}
}

// LoadCatalogFile reads a YAML seed file into a new Catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML seed document into a new Catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := NewCatalog()
	for i, r := range f.Repositories {
		if r.ID == "" || r.FullName == "" {
			return nil, fmt.Errorf("parse catalog: repositories[%d] needs id and fullName", i)
		}
		c.AddRepository(r)
	}
	for i, u := range f.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("parse catalog: users[%d] needs id", i)
		}
		c.AddUser(u)
	}
	return c, nil
}

// AddRepository registers or replaces a repository.
func (c *Catalog) AddRepository(r job.Repository) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.repos[r.ID]; ok {
		delete(c.byName, old.FullName)
	}
	c.repos[r.ID] = &r
	c.byName[r.FullName] = r.ID
}

// AddUser registers or replaces a user.
func (c *Catalog) AddUser(u job.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = &u
}

// Repository looks a repository up by ID.
func (c *Catalog) Repository(_ context.Context, id string) (*job.Repository, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.repos[id]
	if !ok {
		return nil, apperrors.NotFound("repository", id)
	}
	cp := *r
	return &cp, nil
}

// RepositoryByFullName looks a repository up by its owner/name.
func (c *Catalog) RepositoryByFullName(ctx context.Context, fullName string) (*job.Repository, error) {
	c.mu.RLock()
	id, ok := c.byName[fullName]
	c.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("repository", fullName)
	}
	return c.Repository(ctx, id)
}

// User looks a user up by ID.
func (c *Catalog) User(_ context.Context, id string) (*job.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

// Repositories returns every repository, ordered by ID.
func (c *Catalog) Repositories() []job.Repository {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]job.Repository, 0, len(c.repos))
	for _, r := range c.repos {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Users returns every user, ordered by ID.
func (c *Catalog) Users() []job.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]job.User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

var _ job.Catalog = (*Catalog)(nil)
