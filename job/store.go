package job

import (
	"fmt"
	"sync"

	"github.com/livepeer/catalyst-render/cache"
)

// Store is the persistence contract the API, Controller and Rendition
// Runner use to read and mutate Jobs. Implementations must make concurrent
// UpdateJob calls atomic with respect to each other for the same Job,
// since the Runner reads-modifies-writes an Output then recomputes the
// parent Job's aggregate progress/status.
type Store interface {
	CreateJob(j *Job) error
	GetJob(id string) (*Job, bool)
	ListJobs() []*Job
	UpdateJob(id string, mutate func(j *Job) error) error
	DeleteJob(id string) error
}

// MemoryStore is the reference Store: a cache.Cache[*Job] guarded by a
// per-job lock so concurrent Runners updating sibling Outputs never race
// on the parent Job's aggregate fields.
type MemoryStore struct {
	jobs  *cache.Cache[*Job]
	locks sync.Map // id -> *sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: cache.New[*Job]()}
}

func (m *MemoryStore) lockFor(id string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (m *MemoryStore) CreateJob(j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("job has no id")
	}
	if existing := m.jobs.Get(j.ID); existing != nil {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	m.jobs.Store(j.ID, j)
	return nil
}

func (m *MemoryStore) GetJob(id string) (*Job, bool) {
	j := m.jobs.Get(id)
	return j, j != nil
}

func (m *MemoryStore) ListJobs() []*Job {
	all := m.jobs.UnittestIntrospection()
	jobs := make([]*Job, 0, len(*all))
	for _, j := range *all {
		jobs = append(jobs, j)
	}
	return jobs
}

// UpdateJob runs mutate under the per-job lock and writes the result back,
// so a Runner updating one Output's progress can't race with another
// Runner recomputing the parent Job's aggregate progress.
func (m *MemoryStore) UpdateJob(id string, mutate func(j *Job) error) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	j := m.jobs.Get(id)
	if j == nil {
		return fmt.Errorf("job %s not found", id)
	}
	if err := mutate(j); err != nil {
		return err
	}
	m.jobs.Store(id, j)
	return nil
}

func (m *MemoryStore) DeleteJob(id string) error {
	m.jobs.Remove(id, id)
	m.locks.Delete(id)
	return nil
}
