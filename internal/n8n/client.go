// Package n8n is a thin read-only client for the n8n REST API, used to
// resolve workflow display names and modification timestamps.
//
// The portal only enhances the embedded n8n editor, so every lookup fails
// soft: an unreachable or misbehaving n8n instance yields "absent" results,
// never an error the caller has to handle.
package n8n

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// NameCacheTTL bounds how long a resolved display name is trusted
	// before the next caller re-fetches it.
	NameCacheTTL = 5 * time.Minute

	requestTimeout = 3 * time.Second
)

// Workflow is the subset of the n8n workflow record the portal consumes.
type Workflow struct {
	Name      string
	UpdatedAt time.Time
	VersionID string
}

// Client resolves workflow metadata from an n8n instance. Display names are
// cached; full lookups (including UpdatedAt) always hit the API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

type cacheEntry struct {
	name      string
	fetchedAt time.Time
}

// New creates a Client for the n8n instance at baseURL. The apiKey may be
// empty when the instance does not require one.
func New(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{},
		logger:  logger,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// ResolveName returns the display name for a workflow, serving from the cache
// when a fresh entry exists. The second return is false when the name could
// not be resolved; the cache is left untouched in that case so a stale entry
// can still serve the next caller until its own TTL expires.
func (c *Client) ResolveName(ctx context.Context, workflowID string) (string, bool) {
	c.mu.Lock()
	if entry, ok := c.cache[workflowID]; ok && c.now().Sub(entry.fetchedAt) < NameCacheTTL {
		c.mu.Unlock()
		return entry.name, true
	}
	c.mu.Unlock()

	wf, ok := c.fetch(ctx, workflowID)
	if !ok || wf.Name == "" {
		return "", false
	}

	c.mu.Lock()
	c.cache[workflowID] = cacheEntry{name: wf.Name, fetchedAt: c.now()}
	c.mu.Unlock()
	return wf.Name, true
}

// ResolveWorkflow returns the full metadata record for a workflow. Results
// are never cached; the change detector needs a live UpdatedAt every poll.
func (c *Client) ResolveWorkflow(ctx context.Context, workflowID string) (Workflow, bool) {
	return c.fetch(ctx, workflowID)
}

// fetch tries the public API path first and falls back to the internal REST
// path on 404; the two n8n deployments in the wild disagree on which one
// serves workflow reads. Each attempt carries its own timeout.
func (c *Client) fetch(ctx context.Context, workflowID string) (Workflow, bool) {
	body, status, err := c.get(ctx, fmt.Sprintf("%v/api/v1/workflows/%v", c.baseURL, workflowID))
	if err == nil && status == http.StatusNotFound {
		body, status, err = c.get(ctx, fmt.Sprintf("%v/rest/workflows/%v", c.baseURL, workflowID))
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("workflow_id", workflowID).Msg("n8n lookup failed")
		return Workflow{}, false
	}
	if status != http.StatusOK {
		return Workflow{}, false
	}

	var payload workflowBody
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Debug().Err(err).Str("workflow_id", workflowID).Msg("n8n response unparseable")
		return Workflow{}, false
	}
	return payload.workflow(), true
}

func (c *Client) get(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building request for %v: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-N8N-API-KEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("requesting %v: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response from %v: %w", url, err)
	}
	return body, resp.StatusCode, nil
}

// workflowBody tolerates both response shapes n8n is known to produce:
// fields at the top level, or nested under "data", depending on the
// deployment version.
type workflowBody struct {
	Name      string `json:"name"`
	UpdatedAt string `json:"updatedAt"`
	VersionID string `json:"versionId"`
	Data      *struct {
		Name      string `json:"name"`
		UpdatedAt string `json:"updatedAt"`
		VersionID string `json:"versionId"`
	} `json:"data"`
}

func (b workflowBody) workflow() Workflow {
	name, updatedAt, versionID := b.Name, b.UpdatedAt, b.VersionID
	if b.Data != nil {
		if name == "" {
			name = b.Data.Name
		}
		if updatedAt == "" {
			updatedAt = b.Data.UpdatedAt
		}
		if versionID == "" {
			versionID = b.Data.VersionID
		}
	}

	wf := Workflow{Name: name, VersionID: versionID}
	if updatedAt != "" {
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			wf.UpdatedAt = t
		}
	}
	return wf
}
