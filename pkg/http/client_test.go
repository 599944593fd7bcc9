package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndParseDecodesJSONAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "k", r.Header.Get("X-Token"))
		_, _ = w.Write([]byte(`{"c": 101.5}`))
	}))
	defer srv.Close()

	var out struct {
		C float64 `json:"c"`
	}
	err := NewClient().SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		Headers:     map[string]string{"X-Token": "k"},
		QueryParams: map[string][]string{"symbol": {"AAPL"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 101.5, out.C)
}

func TestSendAndParseReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.Equal(t, "slow down", se.Body)
	assert.Equal(t, 30*time.Second, se.RetryAfter)
}

func TestSendAndParsePostsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		var in struct {
			Symbols []string `json:"symbols"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, []string{"AAPL", "MSFT"}, in.Symbols)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var raw []byte
	err := NewClient(WithUserAgent("test-agent")).SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Body:   map[string][]string{"symbols": {"AAPL", "MSFT"}},
	}, &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestSendAndParseCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"c": 101.5, "padding": "xxxxxxxxxxxxxxxxxxxx"}`))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := NewClient(WithMaxBodyBytes(10)).SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, &out)
	assert.Error(t, err)
}
