package proc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leeineian/tunequiz/sys"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

const (
	MsgCatalogLookupFail  = "Lookup of %s failed: %v"
	MsgCatalogCacheFail   = "Metadata cache for %s unavailable: %v"
	MsgCatalogPlaylist    = "Playlist %s resolved to %d tracks"
	ProviderYouTube       = "youtube"
	ProviderYouTubeMusic  = "ytmusic"
	DefaultLookupTimeout  = 8 * time.Second
	defaultLookupDuration = 0
)

var (
	playlistIDPattern = regexp.MustCompile(`[?&]list=([A-Za-z0-9_-]+)`)
	videoIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// Video is one search hit or the resolved metadata of a track.
type Video struct {
	ID       string
	Title    string
	Author   string
	URL      string
	Duration time.Duration
}

// VideoSearcher runs free-text searches against a video platform, best match first.
type VideoSearcher interface {
	Search(ctx context.Context, query string) ([]Video, error)
}

// YTSearcher scrapes YouTube search results through ytsearch.
type YTSearcher struct {
	client *ytsearch.Client
}

func NewYTSearcher() *YTSearcher {
	return &YTSearcher{client: ytsearch.NewClient(&http.Client{Timeout: DefaultLookupTimeout})}
}

func (s *YTSearcher) Search(ctx context.Context, query string) ([]Video, error) {
	res, err := s.client.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: youtube search: %v", ErrServiceUnavailable, err)
	}
	out := make([]Video, 0, len(res.Results))
	for _, r := range res.Results {
		if r.VideoID == "" {
			continue
		}
		out = append(out, Video{
			ID:       r.VideoID,
			Title:    r.Title,
			Author:   r.Channel,
			URL:      TrackURL(r.VideoID),
			Duration: parseDurationColon(r.Duration),
		})
	}
	return out, nil
}

// YTMusicSearcher searches the YouTube Music track catalog.
type YTMusicSearcher struct{}

// ytmusic takes no context, so the search runs aside and is abandoned once ctx ends.
func (YTMusicSearcher) Search(ctx context.Context, query string) ([]Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		r   *ytmusic.SearchResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := ytmusic.TrackSearch(query).Next()
		done <- result{r, err}
	}()

	var r *ytmusic.SearchResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("%w: youtube music search: %v", ErrServiceUnavailable, res.err)
		}
		r = res.r
	}
	out := make([]Video, 0, len(r.Tracks))
	for _, t := range r.Tracks {
		if t.VideoID == "" {
			continue
		}
		author := ""
		if len(t.Artists) > 0 {
			author = t.Artists[0].Name
		}
		out = append(out, Video{
			ID:     t.VideoID,
			Title:  t.Title,
			Author: author,
			URL:    TrackURL(t.VideoID),
		})
	}
	return out, nil
}

// NewSearcher picks the searcher for a configured provider name.
func NewSearcher(provider string) VideoSearcher {
	if provider == ProviderYouTubeMusic {
		return YTMusicSearcher{}
	}
	return NewYTSearcher()
}

// MetadataStore persists resolved track metadata between runs.
type MetadataStore interface {
	Get(ctx context.Context, trackID string) (*sys.TrackMetadata, error)
	Set(ctx context.Context, m *sys.TrackMetadata) error
}

// DBMetadataStore keeps metadata in the bot database.
type DBMetadataStore struct{}

func (DBMetadataStore) Get(ctx context.Context, trackID string) (*sys.TrackMetadata, error) {
	return sys.GetTrackMetadata(ctx, trackID)
}

func (DBMetadataStore) Set(ctx context.Context, m *sys.TrackMetadata) error {
	return sys.SetTrackMetadata(ctx, m)
}

// Catalog resolves track identifiers and playlists into playable tracks.
type Catalog struct {
	searcher VideoSearcher
	lister   PlaylistLister
	store    MetadataStore
	timeout  time.Duration
}

type CatalogOption func(*Catalog)

// WithLookupTimeout bounds each id search made by Lookup.
func WithLookupTimeout(d time.Duration) CatalogOption {
	return func(c *Catalog) { c.timeout = d }
}

// NewCatalog builds a catalog. store may be nil, in which case every lookup hits the searcher.
func NewCatalog(searcher VideoSearcher, lister PlaylistLister, store MetadataStore, opts ...CatalogOption) *Catalog {
	c := &Catalog{searcher: searcher, lister: lister, store: store, timeout: DefaultLookupTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) Searcher() VideoSearcher {
	return c.searcher
}

// Lookup resolves a track identifier to its title and author.
func (c *Catalog) Lookup(ctx context.Context, trackID string) (*Video, error) {
	if c.store != nil {
		m, err := c.store.Get(ctx, trackID)
		if err != nil {
			sys.LogWarn(MsgCatalogCacheFail, trackID, err)
		} else if m != nil {
			return &Video{ID: m.TrackID, Title: m.Title, Author: m.Author, URL: m.URL, Duration: m.Duration}, nil
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	results, err := c.searcher.Search(searchCtx, trackID)
	cancel()
	if err != nil {
		sys.LogWarn(MsgCatalogLookupFail, trackID, err)
		return nil, err
	}
	var found *Video
	for i := range results {
		if results[i].ID == trackID {
			found = &results[i]
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s not found by id search", ErrServiceUnavailable, trackID)
	}

	if c.store != nil {
		if err := c.store.Set(ctx, &sys.TrackMetadata{
			TrackID:  found.ID,
			Title:    found.Title,
			Author:   found.Author,
			URL:      found.URL,
			Duration: found.Duration,
		}); err != nil {
			sys.LogWarn(MsgCatalogCacheFail, trackID, err)
		}
	}
	return found, nil
}

// Resolve turns user input into track identifiers. Playlist URLs are expanded,
// single video URLs and bare identifiers yield one track.
func (c *Catalog) Resolve(ctx context.Context, input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if _, ok := ParsePlaylistID(input); ok {
		return c.Playlist(ctx, input)
	}
	if id, ok := ParseVideoID(input); ok {
		return []string{id}, nil
	}
	return nil, fmt.Errorf("%w: %q is neither a playlist nor a video", ErrValidation, input)
}

func (c *Catalog) Playlist(ctx context.Context, playlistURL string) ([]string, error) {
	id, ok := ParsePlaylistID(playlistURL)
	if !ok {
		return nil, fmt.Errorf("%w: no playlist id in %q", ErrValidation, playlistURL)
	}
	ids, err := c.lister.PlaylistIDs(ctx, "https://www.youtube.com/playlist?list="+id, PlaylistPageSize)
	if err != nil {
		return nil, err
	}
	sys.LogGame(MsgCatalogPlaylist, id, len(ids))
	return ids, nil
}

func ParsePlaylistID(s string) (string, bool) {
	m := playlistIDPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseVideoID accepts watch, short and music URLs as well as a bare 11 character id.
func ParseVideoID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if videoIDPattern.MatchString(s) {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
		} else if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			id = strings.Trim(rest, "/")
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

// parseDurationColon parses "3:20" or "1:05:20". Anything else is zero.
func parseDurationColon(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return defaultLookupDuration
	}
	values := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return defaultLookupDuration
		}
		values[i] = v
	}
	var h, m, sec int
	if len(values) == 3 {
		h, m, sec = values[0], values[1], values[2]
	} else {
		m, sec = values[0], values[1]
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}
