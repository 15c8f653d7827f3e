// Package worker is a reference implementation of the pull-based
// machine module the control plane expects on the other side of
// `GET /jobs`, `POST /jobs/{id}/claim`, and `POST /jobs/{id}/result`
// (§4.6, §5 "Scheduling model"). The real extraction/redirect-
// resolution/freshness logic these job kinds exist for is out of
// scope per spec §1 ("Worker job handlers themselves ... are external
// collaborators"); this package demonstrates the claim/lease/result
// loop shape an external module runs, with trivial, clearly-labeled
// handlers standing in for the real ones.
//
// Retargeted from the teacher's in-process DB-polling worker
// (internal/domain/job + direct *Repo calls) to an HTTP client against
// this module's own API, since a worker here is a separate OS process
// per §5, not a goroutine sharing the control plane's connection pool.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sourcejob/controlplane/internal/domain/jobcore"
	"github.com/sourcejob/controlplane/internal/jobs"
)

// Config carries the teacher's poll-loop shape (PollInterval,
// Concurrency, ShutdownGrace), retargeted with the HTTP
// endpoint and machine credentials this module authenticates with
// (§6 "X-Module-Id" + "X-API-Key").
type Config struct {
	BaseURL       string
	ModuleID      string
	APIKey        string
	PollInterval  time.Duration
	LeaseSeconds  int
	Concurrency   int
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.LeaseSeconds <= 0 {
		c.LeaseSeconds = 300
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

// Handler processes one claimed job and returns the result to submit.
// handleExtract/handleResolveRedirects/handleCheckFreshness below are
// the stand-ins registered by default; a real module would replace
// them with actual extraction/redirect-following/freshness logic.
type Handler func(ctx context.Context, job jobcore.Job) (status jobcore.Status, result, errJSON json.RawMessage)

// Worker polls the queued-jobs view and works through it one lease at
// a time per §5's "independent OS processes" model — Concurrency only
// sets how many queued jobs one poll lists; pollOnce claims and
// handles them one after another, never in parallel.
type Worker struct {
	cfg        Config
	httpClient *http.Client
	handlers   map[jobcore.Kind]Handler
	log        *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Worker {
	w := &Worker{
		cfg:        cfg.withDefaults(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		handlers:   map[jobcore.Kind]Handler{},
		log:        log,
	}
	w.handlers[jobcore.KindExtract] = w.handleExtract
	w.handlers[jobcore.KindResolveURLRedirects] = w.handleResolveRedirects
	w.handlers[jobcore.KindCheckFreshness] = w.handleCheckFreshness
	return w
}

// Run polls until ctx is cancelled, then returns. A poll already under
// way finishes first, but its requests share ctx, so any round trip
// not yet complete fails with the cancellation.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil {
				w.log.Error("worker.poll_failed", "err", err)
			}
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) error {
	queued, err := w.listQueued(ctx, w.cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("list queued: %w", err)
	}

	for _, j := range queued {
		claimed, err := w.claim(ctx, j.ID)
		if err != nil {
			w.log.Warn("worker.claim_failed", "job_id", j.ID, "err", err)
			continue
		}

		handle, ok := w.handlers[claimed.Kind]
		if !ok {
			w.log.Warn("worker.no_handler", "job_id", claimed.ID, "kind", claimed.Kind)
			continue
		}

		status, result, errJSON := handle(ctx, claimed)
		if _, err := w.submitResult(ctx, claimed.ID, status, result, errJSON); err != nil {
			w.log.Error("worker.submit_result_failed", "job_id", claimed.ID, "err", err)
		}
	}
	return nil
}

// handleExtract is a stand-in: real extraction needs the discovery's
// fetched page content, which is out of this module's scope to fetch
// or cache. It returns an empty `done` result so the projection engine
// exercises its can_project_posting=false / processed path rather than
// leaving the job claimed forever.
func (w *Worker) handleExtract(_ context.Context, _ jobcore.Job) (jobcore.Status, json.RawMessage, json.RawMessage) {
	result, _ := json.Marshal(jobs.ExtractResult{})
	return jobcore.StatusDone, result, nil
}

// handleResolveRedirects is a stand-in: it echoes the URL state it was
// given back unchanged rather than actually following redirects, which
// keeps the discovery-rewrite path (§4.6.3) exercised without an
// outbound HTTP fetch this module doesn't own.
func (w *Worker) handleResolveRedirects(_ context.Context, job jobcore.Job) (jobcore.Status, json.RawMessage, json.RawMessage) {
	var in jobs.ResolveURLRedirectsInputs
	if err := json.Unmarshal(job.InputsJSON, &in); err != nil {
		errJSON, _ := json.Marshal(map[string]string{"message": err.Error()})
		return jobcore.StatusFailed, nil, errJSON
	}
	result, _ := json.Marshal(jobs.ResolveURLRedirectsResult{
		URL:           in.URL,
		NormalizedURL: in.NormalizedURL,
		CanonicalHash: in.CanonicalHash,
	})
	return jobcore.StatusDone, result, nil
}

// handleCheckFreshness is a stand-in: it always recommends keeping the
// posting's current status, which exercises the machine-transition
// path (§4.6.3) without a real liveness probe against the posting's
// application_url.
func (w *Worker) handleCheckFreshness(_ context.Context, job jobcore.Job) (jobcore.Status, json.RawMessage, json.RawMessage) {
	var in jobs.CheckFreshnessInputs
	if err := json.Unmarshal(job.InputsJSON, &in); err != nil {
		errJSON, _ := json.Marshal(map[string]string{"message": err.Error()})
		return jobcore.StatusFailed, nil, errJSON
	}
	result, _ := json.Marshal(jobs.CheckFreshnessResult{RecommendedStatus: in.PostingStatus})
	return jobcore.StatusDone, result, nil
}

func (w *Worker) listQueued(ctx context.Context, limit int) ([]jobcore.Job, error) {
	var out struct {
		Items []jobcore.Job `json:"items"`
	}
	err := w.do(ctx, http.MethodGet, fmt.Sprintf("/jobs?limit=%d", limit), nil, &out)
	return out.Items, err
}

func (w *Worker) claim(ctx context.Context, jobID string) (jobcore.Job, error) {
	body, _ := json.Marshal(map[string]int{"lease_seconds": w.cfg.LeaseSeconds})
	var out jobcore.Job
	err := w.do(ctx, http.MethodPost, fmt.Sprintf("/jobs/%s/claim", jobID), body, &out)
	return out, err
}

func (w *Worker) submitResult(ctx context.Context, jobID string, status jobcore.Status, result, errJSON json.RawMessage) (jobcore.Job, error) {
	body, _ := json.Marshal(map[string]any{
		"status":      string(status),
		"result_json": result,
		"error_json":  errJSON,
	})
	var out jobcore.Job
	err := w.do(ctx, http.MethodPost, fmt.Sprintf("/jobs/%s/result", jobID), body, &out)
	return out, err
}

func (w *Worker) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, w.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Module-Id", w.cfg.ModuleID)
	req.Header.Set("X-API-Key", w.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(payload))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
