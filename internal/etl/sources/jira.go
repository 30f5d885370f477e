package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mdjira/internal/etl"
)

// ── Jira Source ─────────────────────────────────────────────
// Fetches issues of one project updated inside the partition window
// from the Jira Cloud search endpoint, following its nextPageToken cursor.

const (
	defaultJiraMaxResults = 100
	defaultJiraCursor     = "nextPageToken"
)

type jiraSource struct{}

func init() { etl.RegisterSource(&jiraSource{}) }

func (s *jiraSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "jira",
		Label: "Jira issue search",
		ConfigFields: []etl.ConfigField{
			{Key: "baseUrl", Label: "Base URL", Type: "string", Required: true, Help: "e.g. https://domain-name.atlassian.net/rest/api/3/"},
			{Key: "project", Label: "Project key", Type: "string", Required: true, Default: "MD"},
			{Key: "username", Label: "Username", Type: "string", Help: "Atlassian account email"},
			{Key: "accessToken", Label: "API token", Type: "password"},
			{Key: "maxResults", Label: "Page size", Type: "int", Default: "100"},
			{Key: "cursor", Label: "Cursor field", Type: "string", Default: defaultJiraCursor, Help: "Response field and query param carrying the next page token"},
			{Key: "rateLimit", Label: "Requests per second", Type: "int", Default: "5"},
			{Key: "rateBurst", Label: "Request burst", Type: "int", Default: "1"},
			{Key: "timeoutSeconds", Label: "Request timeout (s)", Type: "int", Default: "30"},
		},
	}
}

func (s *jiraSource) Read(ctx context.Context, req etl.ReadRequest) (<-chan etl.Record, <-chan error) {
	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if err := readJira(ctx, req, out); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// searchJQL builds the query restricting results to the partition window.
func searchJQL(project string, w etl.Window) string {
	return fmt.Sprintf("project ='%s' and updated >= '%s' and updated < '%s' order by updated desc",
		jqlEscaper.Replace(project), w.Lower(), w.Upper())
}

// jqlEscaper escapes a value placed inside a single-quoted JQL string.
var jqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func readJira(ctx context.Context, req etl.ReadRequest, out chan<- etl.Record) error {
	cfg := req.Config
	baseURL := cfg.String("baseUrl", "")
	if baseURL == "" {
		return fmt.Errorf("baseUrl is required")
	}
	project := cfg.String("project", "")
	if project == "" {
		return fmt.Errorf("project is required")
	}
	endpoint, err := url.JoinPath(baseURL, "search/jql")
	if err != nil {
		return fmt.Errorf("build endpoint: %w", err)
	}

	cursor := cfg.String("cursor", defaultJiraCursor)
	username := cfg.String("username", "")
	token := cfg.String("accessToken", "")
	client := &http.Client{Timeout: time.Duration(cfg.Int("timeoutSeconds", 30)) * time.Second}
	limiter := rate.NewLimiter(rate.Limit(cfg.Float("rateLimit", 5)), cfg.Int("rateBurst", 1))

	params := url.Values{}
	params.Set("jql", searchJQL(project, req.Window))
	params.Set("fields", "*all")
	params.Set("expand", "changelog")
	params.Set("maxResults", strconv.Itoa(cfg.Int("maxResults", defaultJiraMaxResults)))

	pageToken := ""
	seen := make(map[string]bool)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if pageToken != "" {
			params.Set(cursor, pageToken)
		}

		page, err := fetchPage(ctx, client, endpoint+"?"+params.Encode(), username, token)
		if err != nil {
			return err
		}

		issues, err := etl.Lookup(page, "issues")
		if err != nil {
			return fmt.Errorf("parse search response: %w", err)
		}
		items, ok := issues.([]any)
		if !ok {
			return fmt.Errorf("parse search response: issues is %T, want array", issues)
		}
		for i, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("parse search response: issue %d is %T, want object", i, item)
			}
			select {
			case out <- etl.NewRecord(m):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		next, err := etl.Lookup(page, cursor)
		if errors.Is(err, etl.ErrMissingPath) {
			return nil
		}
		pageToken, _ = next.(string)
		if pageToken == "" {
			return nil
		}
		if last, _ := page["isLast"].(bool); last {
			return nil
		}
		if seen[pageToken] {
			return fmt.Errorf("search cursor %q repeated", pageToken)
		}
		seen[pageToken] = true
	}
}

func fetchPage(ctx context.Context, client *http.Client, rawURL, username, token string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if username != "" && token != "" {
		req.SetBasicAuth(username, token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var page map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return page, nil
}
