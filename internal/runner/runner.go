package runner

import (
	"context"
	"crypto/sha1" //nolint:gosec // non-cryptographic fingerprint
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samvad-hq/samvad-request-runner/internal/domain"
	"github.com/samvad-hq/samvad-request-runner/internal/logger"
	"github.com/samvad-hq/samvad-request-runner/pkg/executor"
	"github.com/samvad-hq/samvad-request-runner/pkg/jobs"
	"github.com/samvad-hq/samvad-request-runner/pkg/publishers"
)

// Service runs configured jobs through the executor and reports each result.
type Service struct {
	exec      RequestExecutor
	publisher EventPublisher
	journal   Journal
	log       logger.Logger
	sleep     func(ctx context.Context, d time.Duration) bool
}

// NewService wires a runner. publisher and journal are optional.
func NewService(exec RequestExecutor, publisher EventPublisher, journal Journal, log logger.Logger) *Service {
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &Service{
		exec:      exec,
		publisher: publisher,
		journal:   journal,
		log:       log,
		sleep:     sleepContext,
	}
}

// Run executes one pass over jobs in order. Failed jobs are joined into the returned error.
func (s *Service) Run(ctx context.Context, list []jobs.Job) ([]domain.Result, error) {
	if s == nil || s.exec == nil {
		return nil, fmt.Errorf("runner service is not initialized")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no jobs configured")
	}

	results := make([]domain.Result, 0, len(list))
	var errs []error

	for i, job := range list {
		if ctx.Err() != nil {
			break
		}

		res, skipped, err := s.runJob(ctx, job)
		if err != nil {
			errs = append(errs, err)
			s.log.ErrorObj("job failed", "job_error", map[string]any{
				"job_id": job.ID,
				"error":  err.Error(),
			})
		}
		if !skipped && res.JobID != "" {
			results = append(results, res)
		}

		if delay := job.Delay(); delay > 0 && i < len(list)-1 && !skipped {
			if !s.sleep(ctx, delay) {
				break
			}
		}
	}

	return results, errors.Join(errs...)
}

// runJob executes a single job, records it in the journal and publishes the result.
func (s *Service) runJob(ctx context.Context, job jobs.Job) (domain.Result, bool, error) {
	key := Fingerprint(job)
	if job.Once && s.journal != nil {
		done, err := s.journal.Completed(key)
		if err != nil {
			s.log.WarnObj("journal lookup failed; running job", "journal_error", map[string]any{
				"job_id": job.ID,
				"error":  err.Error(),
			})
		} else if done {
			s.log.InfoObj("job already completed; skipping", "job_skip", map[string]any{"job_id": job.ID})
			return domain.Result{}, true, nil
		}
	}

	start := time.Now()
	out, err := s.exec.Execute(ctx, job.Request())
	if err != nil {
		return domain.Result{}, false, fmt.Errorf("job %s: %w", job.ID, err)
	}

	res := toResult(job, out, time.Since(start))
	s.log.InfoObj("job finished", "job_result", res)

	var errs []error
	if !res.Succeeded() {
		errs = append(errs, fmt.Errorf("job %s: %s", job.ID, out))
	} else if err := executor.ValidateResponse(out); err != nil {
		s.log.WarnObj("job response flagged an error", "job_validation", map[string]any{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}

	if res.Succeeded() && job.Once && s.journal != nil {
		if err := s.journal.MarkCompleted(key); err != nil {
			errs = append(errs, fmt.Errorf("job %s: mark completed: %w", job.ID, err))
		}
	}

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, publishers.NewEvent(res)); err != nil {
			errs = append(errs, fmt.Errorf("job %s: publish result: %w", job.ID, err))
		}
	}

	return res, false, errors.Join(errs...)
}

func toResult(job jobs.Job, out executor.Outcome, elapsed time.Duration) domain.Result {
	res := domain.Result{
		JobID:      job.ID,
		JobName:    job.Name,
		Method:     job.Method,
		URL:        job.URL,
		Outcome:    out.Kind.String(),
		StatusCode: out.StatusCode,
		Fault:      string(out.Fault),
		Message:    out.Message,
		Attempts:   out.AttemptCount(),
		ElapsedMs:  elapsed.Milliseconds(),
		FinishedAt: time.Now().UTC(),
	}
	if out.Success() {
		res.Summary = summarizeBody(out.Body)
	}
	return res
}

// Fingerprint identifies a job definition; editing the job yields a new key.
func Fingerprint(job jobs.Job) string {
	h := sha1.New() //nolint:gosec // non-cryptographic fingerprint
	h.Write([]byte(job.Method))
	h.Write([]byte{0})
	h.Write([]byte(job.URL))
	h.Write([]byte{0})
	keys := make([]string, 0, len(job.Headers))
	for k := range job.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k + ":" + job.Headers[k]))
		h.Write([]byte{0})
	}
	if job.Body != nil {
		if raw, err := json.Marshal(job.Body); err == nil {
			h.Write(raw)
		}
	}
	return job.ID + ":" + hex.EncodeToString(h.Sum(nil))
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
