package proc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leeineian/tunequiz/sys"
	"golang.org/x/time/rate"
)

const (
	MsgSegmentsFetchFail   = "Segment lookup for %s failed: %v"
	MsgSegmentsStatus      = "Segment service returned %d for %s: %s"
	MsgSegmentsInvalid     = "Discarding malformed segments for %s: %v"
	MsgSegmentsFound       = "Found %d skip segments for %s"
	defaultSegmentsTimeout = 5 * time.Second
)

type SegmentCategory string

const (
	CategorySponsor       SegmentCategory = "sponsor"
	CategorySelfPromotion SegmentCategory = "selfpromo"
	CategoryInteraction   SegmentCategory = "interaction"
	CategoryIntro         SegmentCategory = "intro"
	CategoryOutro         SegmentCategory = "outro"
	CategoryPreview       SegmentCategory = "preview"
	CategoryMusicOffTopic SegmentCategory = "music_offtopic"
	CategoryFiller        SegmentCategory = "filler"
)

var AllSegmentCategories = []SegmentCategory{
	CategorySponsor,
	CategorySelfPromotion,
	CategoryInteraction,
	CategoryIntro,
	CategoryOutro,
	CategoryPreview,
	CategoryMusicOffTopic,
	CategoryFiller,
}

func (c SegmentCategory) valid() bool {
	for _, known := range AllSegmentCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Segment is one skip annotation as returned by the segment service.
type Segment struct {
	Category      SegmentCategory `json:"category"`
	Segment       []float64       `json:"segment"`
	VideoDuration float64         `json:"videoDuration"`
	UUID          string          `json:"UUID"`
	Locked        int             `json:"locked"`
	Votes         int             `json:"votes"`
	Description   string          `json:"description"`
}

func (s Segment) Range() Range {
	return Range{Start: s.Segment[0], End: s.Segment[1]}
}

func (s Segment) validate() error {
	if !s.Category.valid() {
		return fmt.Errorf("unknown category %q", s.Category)
	}
	if len(s.Segment) != 2 {
		return fmt.Errorf("segment %s has %d bounds", s.UUID, len(s.Segment))
	}
	if s.Segment[0] < 0 || s.Segment[1] < 0 || s.VideoDuration < 0 {
		return fmt.Errorf("segment %s has negative values", s.UUID)
	}
	return nil
}

// SegmentSource yields skip segments for a track. Any error means "no segments".
type SegmentSource interface {
	Fetch(ctx context.Context, trackID string) ([]Segment, error)
}

// SegmentProvider queries a SponsorBlock-compatible skipSegments endpoint.
type SegmentProvider struct {
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
	categories []SegmentCategory
	timeout    time.Duration
}

type SegmentOption func(*SegmentProvider)

func WithSegmentCategories(c ...SegmentCategory) SegmentOption {
	return func(p *SegmentProvider) { p.categories = c }
}

func WithSegmentHTTPClient(c *http.Client) SegmentOption {
	return func(p *SegmentProvider) { p.client = c }
}

func WithSegmentLimiter(l *rate.Limiter) SegmentOption {
	return func(p *SegmentProvider) { p.limiter = l }
}

func WithSegmentTimeout(d time.Duration) SegmentOption {
	return func(p *SegmentProvider) { p.timeout = d }
}

func NewSegmentProvider(baseURL string, opts ...SegmentOption) *SegmentProvider {
	p := &SegmentProvider{
		baseURL:    baseURL,
		client:     http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(4), 10),
		categories: AllSegmentCategories,
		timeout:    defaultSegmentsTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *SegmentProvider) requestURL(trackID string) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", err
	}
	quoted := make([]string, len(p.categories))
	for i, c := range p.categories {
		quoted[i] = `"` + string(c) + `"`
	}
	q := u.Query()
	q.Set("videoID", trackID)
	q.Set("categories", "["+strings.Join(quoted, ",")+"]")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch returns the track's skip segments. A 404 means the track has none and is not an error.
func (p *SegmentProvider) Fetch(ctx context.Context, trackID string) ([]Segment, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	endpoint, err := p.requestURL(trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		sys.LogSegments(MsgSegmentsFetchFail, trackID, err)
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		sys.LogSegments(MsgSegmentsStatus, resp.StatusCode, trackID, strings.TrimSpace(string(body)))
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var segments []Segment
	if err := json.NewDecoder(resp.Body).Decode(&segments); err != nil {
		sys.LogSegments(MsgSegmentsInvalid, trackID, err)
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	for _, s := range segments {
		if err := s.validate(); err != nil {
			sys.LogSegments(MsgSegmentsInvalid, trackID, err)
			return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
	}

	sys.LogSegments(MsgSegmentsFound, len(segments), trackID)
	return segments, nil
}

// SegmentRanges extracts the time ranges from fetched segments.
func SegmentRanges(segments []Segment) []Range {
	out := make([]Range, 0, len(segments))
	for _, s := range segments {
		out = append(out, s.Range())
	}
	return out
}
