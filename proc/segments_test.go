package proc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestSegments(url string) *SegmentProvider {
	return NewSegmentProvider(url, WithSegmentLimiter(rate.NewLimiter(rate.Inf, 1)))
}

func TestSegmentFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("videoID"))

		var categories []string
		assert.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("categories")), &categories))
		assert.Contains(t, categories, "sponsor")
		assert.Contains(t, categories, "music_offtopic")

		_, _ = w.Write([]byte(`[
			{"category":"sponsor","segment":[10.5,20],"videoDuration":200,"UUID":"u1","locked":0,"votes":3},
			{"category":"outro","segment":[190,200],"videoDuration":200,"UUID":"u2","locked":1,"votes":0}
		]`))
	}))
	defer srv.Close()

	segments, err := newTestSegments(srv.URL).Fetch(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, CategorySponsor, segments[0].Category)
	assert.Equal(t, []Range{{10.5, 20}, {190, 200}}, SegmentRanges(segments))
}

func TestSegmentFetchResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"Not Found", http.StatusNotFound, `Not Found`, nil},
		{"Server Error", http.StatusBadGateway, `down`, ErrServiceUnavailable},
		{"Bad Json", http.StatusOK, `[{`, ErrProtocolViolation},
		{"Unknown Category", http.StatusOK, `[{"category":"jingle","segment":[1,2]}]`, ErrProtocolViolation},
		{"Wrong Bounds", http.StatusOK, `[{"category":"sponsor","segment":[1]}]`, ErrProtocolViolation},
		{"Negative Bounds", http.StatusOK, `[{"category":"sponsor","segment":[-1,2]}]`, ErrProtocolViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			segments, err := newTestSegments(srv.URL).Fetch(context.Background(), "abc")
			if tt.want == nil {
				assert.NoError(t, err)
				assert.Empty(t, segments)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSegmentCategoriesOption(t *testing.T) {
	p := NewSegmentProvider("https://sponsor.ajay.app/api/skipSegments", WithSegmentCategories(CategoryIntro))
	u, err := p.requestURL("xyz")
	require.NoError(t, err)
	assert.Contains(t, u, "videoID=xyz")
	assert.Contains(t, u, "categories=%5B%22intro%22%5D")
}
