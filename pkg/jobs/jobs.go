package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/samvad-hq/samvad-request-runner/pkg/executor"
)

// Package jobs loads named request definitions (YAML/JSON) for the runner.

const defaultMethod = "GET"

// Job is one named request declared in the jobs file.
type Job struct {
	ID      string            `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers" yaml:"headers"`
	Body    any               `json:"body" yaml:"body"`
	DelayMs int               `json:"delay_ms" yaml:"delay_ms"`
	// Once marks non-idempotent jobs that must not repeat after a success.
	// Changing the method, url, headers or body makes it a new job.
	Once bool `json:"once" yaml:"once"`
}

type jobsFile struct {
	Jobs []Job `json:"jobs" yaml:"jobs"`
}

// Registry holds validated jobs in file order.
type Registry struct {
	mu   sync.RWMutex
	jobs []Job
	idx  map[string]Job
}

// LoadRegistry loads the jobs registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("jobs file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jobs file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	parsed, err := parseJobs(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return NewRegistry(parsed.Jobs)
}

// NewRegistry sanitizes and validates jobs.
func NewRegistry(list []Job) (*Registry, error) {
	if len(list) == 0 {
		return nil, errors.New("jobs file contains no jobs entries")
	}

	reg := &Registry{
		jobs: make([]Job, len(list)),
		idx:  make(map[string]Job, len(list)),
	}
	for i := range list {
		job := sanitizeJob(list[i])
		if err := validateJob(job); err != nil {
			return nil, fmt.Errorf("jobs[%d]: %w", i, err)
		}
		if _, exists := reg.idx[job.ID]; exists {
			return nil, fmt.Errorf("duplicate job id %q", job.ID)
		}
		reg.jobs[i] = job
		reg.idx[job.ID] = job
	}
	return reg, nil
}

type unmarshalFn func([]byte, any) error

func parseJobs(data []byte, ext string) (jobsFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		if parsed, err := unmarshalJobs(d.name, data, d.fn); err == nil {
			return parsed, nil
		}
	}

	return jobsFile{}, errors.New("jobs file format not recognized (expected YAML or JSON)")
}

func unmarshalJobs(name string, data []byte, fn unmarshalFn) (jobsFile, error) {
	var parsed jobsFile
	if err := fn(data, &parsed); err != nil {
		return jobsFile{}, fmt.Errorf("decode %s jobs: %w", name, err)
	}
	return parsed, nil
}

func sanitizeJob(j Job) Job {
	j.ID = strings.TrimSpace(j.ID)
	j.Name = strings.TrimSpace(j.Name)
	j.Method = strings.ToUpper(strings.TrimSpace(j.Method))
	j.URL = strings.TrimSpace(j.URL)
	if j.Method == "" {
		j.Method = defaultMethod
	}
	if j.Name == "" {
		j.Name = j.ID
	}
	if j.DelayMs < 0 {
		j.DelayMs = 0
	}
	j.Headers = sanitizeHeaders(j.Headers)
	return j
}

func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func validateJob(j Job) error {
	if j.ID == "" {
		return errors.New("id is required")
	}
	if j.URL == "" {
		return fmt.Errorf("url is required for job %q", j.ID)
	}
	switch executor.Method(j.Method) {
	case executor.MethodGet, executor.MethodDelete:
		if j.Body != nil {
			return fmt.Errorf("job %q: %s must not declare a body", j.ID, j.Method)
		}
	case executor.MethodPost, executor.MethodPut, executor.MethodPatch:
	default:
		return fmt.Errorf("job %q: unsupported method %q", j.ID, j.Method)
	}
	return nil
}

// Request converts the job into an executor request.
func (j Job) Request() executor.Request {
	return executor.Request{
		Method:  executor.Method(j.Method),
		URL:     j.URL,
		Body:    j.Body,
		Headers: j.Headers,
	}
}

// Delay returns the pause to observe after running this job.
func (j Job) Delay() time.Duration {
	return time.Duration(j.DelayMs) * time.Millisecond
}

// ByID returns the job by id.
func (r *Registry) ByID(id string) (Job, bool) {
	if r == nil {
		return Job{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Job{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.idx[id]
	return j, ok
}

// All returns a copy of the configured jobs in declaration order.
func (r *Registry) All() []Job {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, len(r.jobs))
	copy(out, r.jobs)
	return out
}
