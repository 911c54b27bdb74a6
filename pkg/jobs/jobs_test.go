package jobs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-request-runner/pkg/executor"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write jobs file: %v", err)
	}
	return path
}

func TestLoadRegistryYAML(t *testing.T) {
	path := writeFile(t, "jobs.yaml", `
jobs:
  - id: create-user
    method: post
    url: /users
    once: true
    delay_ms: 200
    headers:
      X-Source: " runner "
      Empty: ""
    body:
      name: ayse
      roles: [admin]
  - id: health
    url: https://api.example.com/health
`)

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	all := reg.All()
	if len(all) != 2 || all[0].ID != "create-user" || all[1].ID != "health" {
		t.Fatalf("unexpected jobs %#v", all)
	}

	job, ok := reg.ByID("create-user")
	if !ok {
		t.Fatalf("expected create-user job")
	}
	if job.Method != "POST" || !job.Once || job.Name != "create-user" {
		t.Fatalf("unexpected job %#v", job)
	}
	if job.Delay() != 200*time.Millisecond {
		t.Fatalf("delay = %v", job.Delay())
	}
	if len(job.Headers) != 1 || job.Headers["X-Source"] != "runner" {
		t.Fatalf("headers not sanitized: %#v", job.Headers)
	}

	req := job.Request()
	if req.Method != executor.MethodPost || req.URL != "/users" {
		t.Fatalf("unexpected request %#v", req)
	}
	body, ok := req.Body.(map[string]any)
	if !ok || body["name"] != "ayse" {
		t.Fatalf("unexpected body %#v", req.Body)
	}

	health, _ := reg.ByID("health")
	if health.Method != "GET" {
		t.Fatalf("expected default GET, got %s", health.Method)
	}
}

func TestLoadRegistryJSON(t *testing.T) {
	path := writeFile(t, "jobs.json", `{"jobs":[{"id":"ping","url":"https://api.example.com/ping"}]}`)
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if len(reg.All()) != 1 {
		t.Fatalf("expected 1 job")
	}
}

func TestLoadRegistryRejectsDuplicates(t *testing.T) {
	path := writeFile(t, "jobs.yaml", `
jobs:
  - id: dup
    url: https://a.example
  - id: dup
    url: https://b.example
`)
	if _, err := LoadRegistry(path); err == nil {
		t.Fatalf("expected duplicate job error")
	}
}

func TestValidateJobRejectsBodyOnGet(t *testing.T) {
	err := validateJob(sanitizeJob(Job{ID: "g", URL: "https://a.example", Body: map[string]any{"a": 1}}))
	if err == nil {
		t.Fatalf("expected body-on-GET validation error")
	}
}

func TestValidateJobRejectsUnknownMethod(t *testing.T) {
	if err := validateJob(sanitizeJob(Job{ID: "x", URL: "https://a.example", Method: "trace"})); err == nil {
		t.Fatalf("expected unsupported method error")
	}
}

func TestLoadRegistryEmptyPath(t *testing.T) {
	if _, err := LoadRegistry(" "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
