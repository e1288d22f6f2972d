// Package scaleft talks to the ScaleFT / Advanced Server Access team API:
// service-token exchange and the auditsV2 feed.
package scaleft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hejijunhao/asa-audit/internal/connector/httpclient"
	"github.com/hejijunhao/asa-audit/internal/model"
)

// DefaultBaseURL is the public ASA API root. Relative link targets resolve against it.
const DefaultBaseURL = "https://app.scaleft.com/v1/"

var (
	// ErrAuthentication marks a failed credential exchange. There is no fallback token.
	ErrAuthentication = errors.New("authentication failed")

	// ErrParse marks a response that could not be decoded.
	ErrParse = errors.New("malformed response")
)

// Token is a bearer token valid for one run.
type Token string

// String keeps tokens out of logs and error messages.
func (Token) String() string { return "[redacted]" }

// Client issues requests against one team's API.
type Client struct {
	http *httpclient.Client
	base *url.URL
	team string
}

// New creates a Client for the given base URL and team.
func New(baseURL, team string, hc *httpclient.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("scaleft connector: base url: %w", err)
	}
	if team == "" {
		return nil, fmt.Errorf("scaleft connector: missing team")
	}
	if hc == nil {
		hc = httpclient.New()
	}
	return &Client{http: hc, base: base, team: team}, nil
}

// teamURL resolves path under /teams/{team}/.
func (c *Client) teamURL(path string) string {
	ref := &url.URL{Path: "teams/" + c.team + "/" + path}
	return c.base.ResolveReference(ref).String()
}

// AuditsURL is the first page of the audit feed, newest events first.
func (c *Client) AuditsURL() string {
	return c.teamURL("auditsV2") + "?descending=true"
}

type serviceTokenRequest struct {
	KeyID     string `json:"key_id"`
	KeySecret string `json:"key_secret"`
}

type serviceTokenResponse struct {
	BearerToken string `json:"bearer_token"`
}

// Authenticate exchanges a service user's key pair for a bearer token.
// The rate-limit budget reported on the response is returned alongside.
func (c *Client) Authenticate(ctx context.Context, keyID, keySecret string) (Token, model.RateLimit, error) {
	body, err := json.Marshal(serviceTokenRequest{KeyID: keyID, KeySecret: keySecret})
	if err != nil {
		return "", model.RateLimit{}, fmt.Errorf("%w: encode request: %w", ErrAuthentication, err)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	resp, err := c.http.Post(ctx, c.teamURL("service_token"), h, body)
	if err != nil {
		return "", rateLimitFromError(err), fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	rl := model.RateLimitFromHeader(resp.Header)

	var out serviceTokenResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", rl, fmt.Errorf("%w: %w: service_token: %w", ErrAuthentication, ErrParse, err)
	}
	if out.BearerToken == "" {
		return "", rl, fmt.Errorf("%w: service_token response has no bearer_token", ErrAuthentication)
	}
	return Token(out.BearerToken), rl, nil
}

type auditsResponse struct {
	List           *[]model.Event       `json:"list"`
	RelatedObjects model.RelatedObjects `json:"related_objects"`
}

// FetchPage retrieves one page of the audit feed. pageURL is either AuditsURL
// or a Next value from a previous page.
func (c *Client) FetchPage(ctx context.Context, pageURL string, token Token) (model.Page, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+string(token))

	resp, err := c.http.Get(ctx, pageURL, h)
	if err != nil {
		return model.Page{RateLimit: rateLimitFromError(err)}, err
	}
	page := model.Page{RateLimit: model.RateLimitFromHeader(resp.Header)}

	var out auditsResponse
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return page, fmt.Errorf("%w: auditsV2: %w", ErrParse, err)
	}
	if out.List == nil {
		return page, fmt.Errorf("%w: auditsV2: response has no list", ErrParse)
	}
	page.Events = *out.List
	page.Related = out.RelatedObjects

	next, err := nextLink(resp.Header.Get("Link"), c.base)
	if err != nil {
		return page, err
	}
	page.Next = next
	return page, nil
}

// rateLimitFromError recovers the rate-limit header from an API error response.
func rateLimitFromError(err error) model.RateLimit {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) && apiErr.Header != nil {
		return model.RateLimitFromHeader(apiErr.Header)
	}
	return model.RateLimit{}
}
