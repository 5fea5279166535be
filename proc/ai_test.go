package proc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestCompletion(url string, opts ...CompletionOption) *CompletionClient {
	opts = append([]CompletionOption{WithCompletionLimiter(rate.NewLimiter(rate.Inf, 1))}, opts...)
	return NewCompletionClient(url, "secret", "test-model", opts...)
}

func TestAskSendsChatRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":"true"}}]}`))
	}))
	defer srv.Close()

	reply, err := newTestCompletion(srv.URL).Ask(context.Background(), "system", "question")
	require.NoError(t, err)
	assert.Equal(t, "true", reply)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "system"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "question"}, got.Messages[1])
}

func TestAskFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"Server Error", http.StatusInternalServerError, `oops`, ErrServiceUnavailable},
		{"Unauthorized", http.StatusUnauthorized, `{}`, ErrServiceUnavailable},
		{"Bad Json", http.StatusOK, `{`, ErrProtocolViolation},
		{"No Choices", http.StatusOK, `{"choices":[]}`, ErrProtocolViolation},
		{"Null Content", http.StatusOK, `{"choices":[{"message":{"content":null}}]}`, ErrProtocolViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestCompletion(srv.URL).Ask(context.Background(), "s", "q")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAskTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := newTestCompletion(srv.URL, WithCompletionTimeout(50*time.Millisecond)).Ask(context.Background(), "s", "q")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestCompletionEnabled(t *testing.T) {
	assert.True(t, NewCompletionClient("u", "t", "m").Enabled())
	assert.False(t, NewCompletionClient("u", "", "m").Enabled())
	assert.False(t, NewCompletionClient("u", "t", "").Enabled())
	assert.False(t, NewCompletionClient("u", "t", "m", WithCompletionDisabled(true)).Enabled())

	var nilClient *CompletionClient
	assert.False(t, nilClient.Enabled())

	_, err := NewCompletionClient("u", "", "m").Ask(context.Background(), "s", "q")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}
