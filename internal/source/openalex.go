package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ── OpenAlex API Source ─────────────────────────────────────
// Harvests records from the OpenAlex REST API using cursor paging.
// The cursor starts at "*" and follows meta.next_cursor until the API
// returns an empty page. Supplying a mailto address joins the polite
// pool, which gets markedly better rate limits.

const defaultAPIBase = "https://api.openalex.org"

type openalexSource struct {
	client *http.Client
}

func init() {
	Register(&openalexSource{client: &http.Client{Timeout: 60 * time.Second}})
}

func (s *openalexSource) Spec() Spec {
	return Spec{
		Type:  "openalex_api",
		Label: "OpenAlex API",
		ConfigFields: []ConfigField{
			{Key: "entity", Label: "Entity Type", Required: true, Help: "work, author, concept, institution, source, publisher, funder or topic"},
			{Key: "filter", Label: "Filter", Help: "OpenAlex filter expression, e.g. from_publication_date:2024-01-01"},
			{Key: "search", Label: "Search", Help: "Full-text search query"},
			{Key: "perPage", Label: "Page Size", Default: "200", Help: "Records per page (max 200)"},
			{Key: "maxRecords", Label: "Max Records", Help: "Stop after this many records (0 = unlimited)"},
			{Key: "mailto", Label: "Mailto", Help: "Contact address for the polite pool"},
			{Key: "baseURL", Label: "Base URL", Default: defaultAPIBase},
		},
	}
}

// listPage is the envelope the API wraps every page in.
type listPage struct {
	Meta struct {
		Count      int    `json:"count"`
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
	Results []map[string]any `json:"results"`
}

func (s *openalexSource) Read(ctx context.Context, cfg Config) (<-chan Record, <-chan error) {
	out := make(chan Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		entity, _ := cfg["entity"].(string)
		if entity == "" {
			errCh <- fmt.Errorf("entity is required")
			return
		}
		base, _ := cfg["baseURL"].(string)
		if base == "" {
			base = defaultAPIBase
		}
		perPage := intConfig(cfg, "perPage", 200)
		if perPage > 200 {
			perPage = 200
		}
		maxRecords := intConfig(cfg, "maxRecords", 0)

		// Endpoint names are the plural of the entity type.
		endpoint := fmt.Sprintf("%s/%ss", base, entity)

		cursor := "*"
		total := 0
		for cursor != "" {
			q := url.Values{}
			q.Set("cursor", cursor)
			q.Set("per_page", strconv.Itoa(perPage))
			if f, _ := cfg["filter"].(string); f != "" {
				q.Set("filter", f)
			}
			if sq, _ := cfg["search"].(string); sq != "" {
				q.Set("search", sq)
			}
			if m, _ := cfg["mailto"].(string); m != "" {
				q.Set("mailto", m)
			}

			page, err := s.fetchPage(ctx, endpoint+"?"+q.Encode())
			if err != nil {
				errCh <- err
				return
			}
			if len(page.Results) == 0 {
				return
			}
			for _, data := range page.Results {
				select {
				case out <- Record{Entity: entity, Data: data}:
				case <-ctx.Done():
					return
				}
				total++
				if maxRecords > 0 && total >= maxRecords {
					log.Printf("[OPENALEX] Reached max records (%d) for %s", maxRecords, entity)
					return
				}
			}
			cursor = page.Meta.NextCursor
		}
	}()

	return out, errCh
}

func (s *openalexSource) fetchPage(ctx context.Context, pageURL string) (*listPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Back off once and retry; sustained 429s surface as errors.
		retryAfter := 2 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		io.Copy(io.Discard, resp.Body)
		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return s.fetchPage(ctx, pageURL)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("api returned %d: %s", resp.StatusCode, string(body))
	}

	var page listPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return &page, nil
}

// intConfig reads an integer config value that may arrive as a JSON
// number, a string, or be absent.
func intConfig(cfg Config, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
