package scaleft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hejijunhao/asa-audit/internal/connector/httpclient"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	hc := httpclient.New(httpclient.WithMaxRetries(0), httpclient.WithBackoff(time.Millisecond))
	c, err := New(srv.URL+"/v1/", "acme", hc)
	require.NoError(t, err)
	return c
}

func TestAuditsURL(t *testing.T) {
	c, err := New("", "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://app.scaleft.com/v1/teams/acme/auditsV2?descending=true", c.AuditsURL())

	c, err = New("https://example.test/v1", "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/v1/teams/acme/auditsV2?descending=true", c.AuditsURL())
}

func TestNew_MissingTeam(t *testing.T) {
	_, err := New("", "", nil)
	require.Error(t, err)
}

func TestAuthenticate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/teams/acme/service_token", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"key_id": "kid", "key_secret": "ksecret"}, body)

		w.Header().Set("X-Ratelimit-Remaining", "499")
		w.Write([]byte(`{"bearer_token":"tok-1","expires_at":"2026-10-18T12:00:00Z"}`))
	}))
	defer srv.Close()

	tok, rl, err := newTestClient(t, srv).Authenticate(context.Background(), "kid", "ksecret")
	require.NoError(t, err)
	assert.Equal(t, Token("tok-1"), tok)
	assert.True(t, rl.Observed)
	assert.Equal(t, "499", rl.Remaining)
}

func TestAuthenticate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "10")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid key"}`))
	}))
	defer srv.Close()

	_, rl, err := newTestClient(t, srv).Authenticate(context.Background(), "kid", "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthentication)

	var apiErr *httpclient.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "10", rl.Remaining)
}

func TestAuthenticate_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	_, _, err := newTestClient(t, srv).Authenticate(context.Background(), "kid", "ksecret")
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, ErrParse)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, _, err := newTestClient(t, srv).Authenticate(context.Background(), "kid", "ksecret")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestToken_Redacted(t *testing.T) {
	tok := Token("super-secret")
	assert.Equal(t, "[redacted]", tok.String())
	assert.NotContains(t, fmt.Sprintf("%v", tok), "super-secret")
}

func TestFetchPage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/teams/acme/auditsV2", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("descending"))
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("X-Ratelimit-Remaining", "42")
		w.Header().Set("Link", `</v1/teams/acme/auditsV2?descending=true&offset=abc>; rel="next"`)
		w.Write([]byte(`{
			"list": [
				{"id": "e1", "timestamp": "2026-10-18T11:50:00Z", "details": {"client": "c1"}, "seq": 9007199254740993},
				{"id": "e2", "timestamp": null}
			],
			"related_objects": {"c1": {"type": "client", "object": {"name": "laptop"}}}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page, err := c.FetchPage(context.Background(), c.AuditsURL(), Token("tok-1"))
	require.NoError(t, err)

	require.Len(t, page.Events, 2)
	assert.Equal(t, "e1", page.Events[0]["id"])
	assert.Equal(t, json.Number("9007199254740993"), page.Events[0]["seq"], "large integers must survive decoding")
	assert.Equal(t, map[string]any{"name": "laptop"}, page.Related["c1"].Object)
	assert.Equal(t, "client", page.Related["c1"].Type)
	assert.Equal(t, srv.URL+"/v1/teams/acme/auditsV2?descending=true&offset=abc", page.Next)
	assert.Equal(t, "42", page.RateLimit.Remaining)
}

func TestFetchPage_NoLinkHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"list": [], "related_objects": {}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	page, err := c.FetchPage(context.Background(), c.AuditsURL(), Token("tok"))
	require.NoError(t, err)
	assert.Empty(t, page.Next)
	assert.Empty(t, page.Events)
	assert.False(t, page.RateLimit.Observed)
}

func TestFetchPage_NotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPage(context.Background(), c.AuditsURL(), Token("tok"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestFetchPage_MissingList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"related_objects": {}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPage(context.Background(), c.AuditsURL(), Token("tok"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestFetchPage_MalformedLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `garbage`)
		w.Write([]byte(`{"list": []}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPage(context.Background(), c.AuditsURL(), Token("tok"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestFetchPage_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FetchPage(context.Background(), c.AuditsURL(), Token("tok"))
	var apiErr *httpclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestNextLink(t *testing.T) {
	base, _ := url.Parse(DefaultBaseURL)
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"absent", "", ""},
		{"absolute", `<https://app.scaleft.com/v1/teams/acme/auditsV2?offset=2>; rel="next"`, "https://app.scaleft.com/v1/teams/acme/auditsV2?offset=2"},
		{"root relative", `</v1/teams/acme/auditsV2?offset=3>; rel="next"`, "https://app.scaleft.com/v1/teams/acme/auditsV2?offset=3"},
		{"path relative", `<teams/acme/auditsV2?offset=4>; rel="next"`, "https://app.scaleft.com/v1/teams/acme/auditsV2?offset=4"},
		{"first entry wins", `<teams/acme/auditsV2?offset=5>; rel="prev", <teams/acme/auditsV2?offset=6>; rel="next"`, "https://app.scaleft.com/v1/teams/acme/auditsV2?offset=5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := nextLink(tt.header, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
