// Package scrape talks to the external archive-scraping provider. The
// client is a thin paged JSON API wrapper; budget enforcement lives in the
// Collector, which stops issuing paid requests once estimated spend would
// exceed the run budget it was handed.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Config holds provider connection settings.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	c := &Client{cfg: cfg, httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profile is the account summary the provider returns.
type Profile struct {
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	Bio            string `json:"bio"`
	FollowersCount int    `json:"followers_count"`
	FollowingCount int    `json:"following_count"`
	TweetCount     int    `json:"tweet_count"`
	AvatarURL      string `json:"avatar_url"`
	BannerURL      string `json:"banner_url"`
}

// TimelineItem is one post from the account's timeline.
type TimelineItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// SocialGraphEntry is one follower/following relationship.
type SocialGraphEntry struct {
	Username string `json:"username"`
	Relation string `json:"relation"`
}

// Page is one provider response page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor"`
}

func (c *Client) FetchProfile(ctx context.Context, username string) (*Profile, error) {
	var p Profile
	if err := c.get(ctx, "/v1/profile/"+url.PathEscape(username), nil, &p); err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", username, err)
	}
	return &p, nil
}

func (c *Client) FetchTimelinePage(ctx context.Context, username, cursor string, limit int) (*Page[TimelineItem], error) {
	var page Page[TimelineItem]
	if err := c.get(ctx, "/v1/timeline/"+url.PathEscape(username), pageQuery(cursor, limit), &page); err != nil {
		return nil, fmt.Errorf("fetch timeline %s: %w", username, err)
	}
	return &page, nil
}

func (c *Client) FetchSocialGraphPage(ctx context.Context, username, cursor string, limit int) (*Page[SocialGraphEntry], error) {
	var page Page[SocialGraphEntry]
	if err := c.get(ctx, "/v1/social-graph/"+url.PathEscape(username), pageQuery(cursor, limit), &page); err != nil {
		return nil, fmt.Errorf("fetch social graph %s: %w", username, err)
	}
	return &page, nil
}

// PageSize returns the configured provider page size.
func (c *Client) PageSize() int { return c.cfg.PageSize }

func pageQuery(cursor string, limit int) url.Values {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider API error: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
