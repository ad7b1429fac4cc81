package cronjob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"chasingclaw/internal/domain"
)

const (
	maxRunsPerJob    = 100
	storeFileVersion = 1
)

// jobsDocument is the on-disk shape of jobs.json.
type jobsDocument struct {
	Version int                       `json:"version"`
	Jobs    map[string]domain.CronJob `json:"jobs"`
}

// FileStore implements domain.CronStore with JSON file persistence.
// Every mutation rewrites the document atomically (write tmp, rename).
type FileStore struct {
	dir  string
	mu   sync.RWMutex
	jobs map[string]domain.CronJob
	runs map[string][]domain.CronRun // jobID → runs
}

// NewFileStore creates a new file-backed cron store.
// It loads existing data from the directory on creation.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cronstore: create dir: %w", err)
	}

	s := &FileStore{
		dir:  dir,
		jobs: make(map[string]domain.CronJob),
		runs: make(map[string][]domain.CronRun),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("cronstore: load: %w", err)
	}
	return s, nil
}

func (s *FileStore) Save(_ context.Context, job domain.CronJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.jobs[job.ID]
	s.jobs[job.ID] = job
	if err := s.saveJobs(); err != nil {
		if existed {
			s.jobs[job.ID] = prev
		} else {
			delete(s.jobs, job.ID)
		}
		return err
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id string) (*domain.CronJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.NewDomainError("FileStore.Get", domain.ErrJobNotFound, id)
	}
	return &job, nil
}

func (s *FileStore) List(_ context.Context) ([]domain.CronJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]domain.CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAtMs != jobs[j].CreatedAtMs {
			return jobs[i].CreatedAtMs < jobs[j].CreatedAtMs
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.NewDomainError("FileStore.Delete", domain.ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	if err := s.saveJobs(); err != nil {
		s.jobs[id] = job
		return err
	}
	if _, ok := s.runs[id]; ok {
		delete(s.runs, id)
		return s.saveRuns()
	}
	return nil
}

func (s *FileStore) SaveRun(_ context.Context, run domain.CronRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := append(s.runs[run.JobID], run)
	if len(runs) > maxRunsPerJob {
		runs = runs[len(runs)-maxRunsPerJob:]
	}
	s.runs[run.JobID] = runs
	return s.saveRuns()
}

// ListRuns returns up to limit runs for jobID, most recent first.
func (s *FileStore) ListRuns(_ context.Context, jobID string, limit int) ([]domain.CronRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestRuns(s.runs[jobID], limit), nil
}

func latestRuns(runs []domain.CronRun, limit int) []domain.CronRun {
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	out := make([]domain.CronRun, limit)
	for i := 0; i < limit; i++ {
		out[i] = runs[len(runs)-1-i]
	}
	return out
}

// --- persistence ---

func (s *FileStore) jobsPath() string { return filepath.Join(s.dir, "jobs.json") }
func (s *FileStore) runsPath() string { return filepath.Join(s.dir, "runs.json") }

func (s *FileStore) load() error {
	if data, err := os.ReadFile(s.jobsPath()); err == nil {
		var doc jobsDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse jobs.json: %w", err)
		}
		if doc.Version > storeFileVersion {
			return fmt.Errorf("jobs.json version %d is newer than supported %d", doc.Version, storeFileVersion)
		}
		for id, j := range doc.Jobs {
			j.ID = id
			s.jobs[id] = j
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if data, err := os.ReadFile(s.runsPath()); err == nil {
		if err := json.Unmarshal(data, &s.runs); err != nil {
			return fmt.Errorf("parse runs.json: %w", err)
		}
		if s.runs == nil {
			s.runs = make(map[string][]domain.CronRun)
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) saveJobs() error {
	return writeJSON(s.jobsPath(), jobsDocument{Version: storeFileVersion, Jobs: s.jobs})
}

func (s *FileStore) saveRuns() error {
	return writeJSON(s.runsPath(), s.runs)
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return domain.WrapOp("write", err)
	}
	return domain.WrapOp("rename", os.Rename(tmp, path))
}
