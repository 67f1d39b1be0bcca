package session

import "context"

// Filter selects sessions in List queries.
type Filter interface {
	Apply(Session) bool
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(Session) bool

// Apply implements Filter.
func (f FilterFunc) Apply(s Session) bool { return f(s) }

// WithStatus filters sessions by status.
func WithStatus(status Status) Filter {
	return FilterFunc(func(s Session) bool { return s.Status == status })
}

// WithRepoPath filters sessions by repository path.
func WithRepoPath(repoPath string) Filter {
	return FilterFunc(func(s Session) bool { return s.RepoPath == repoPath })
}

// UpdateFunc mutates a session inside an atomic read-modify-write.
type UpdateFunc func(*Session) error

// Store is the contract for durable session storage. Implementations must
// serialize concurrent UpdateAtomic calls for the same id so that the update
// function always observes the latest committed record.
type Store interface {
	Create(ctx context.Context, sess Session) error
	Get(ctx context.Context, id string) (Session, bool, error)
	UpdateAtomic(ctx context.Context, id string, fn UpdateFunc) (Session, error)
	List(ctx context.Context, filters ...Filter) ([]Session, error)
	GetByStatus(ctx context.Context, status Status) ([]Session, error)
	GetActiveCount(ctx context.Context) (int, error)
	DeleteExpired(ctx context.Context) ([]string, error)
	Close() error
}

// Stats reports storage-level counters.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalSessions  int `json:"total_sessions"`
	MaxSessions    int `json:"max_sessions"`
}
