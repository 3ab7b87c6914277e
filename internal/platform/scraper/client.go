// Package scraper fetches extracted page content from a scraping API.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"draftr/internal/platform/config"
)

type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Markdown    string `json:"markdown"`
}

// StatusError carries the scraper's HTTP status. 4xx means the URL itself
// is bad; 5xx means the service is struggling.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scraper returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(cfg config.ScraperConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string `json:"markdown"`
		Metadata struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"metadata"`
	} `json:"data"`
	Error string `json:"error"`
}

func (c *Client) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"url":     pageURL,
		"formats": []string{"markdown"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(b)}
	}

	var parsed scrapeResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode scrape response: %w", err)
	}
	if !parsed.Success {
		return nil, &StatusError{StatusCode: http.StatusUnprocessableEntity, Body: parsed.Error}
	}

	return &Page{
		URL:         pageURL,
		Title:       parsed.Data.Metadata.Title,
		Description: parsed.Data.Metadata.Description,
		Markdown:    parsed.Data.Markdown,
	}, nil
}
