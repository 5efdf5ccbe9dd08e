package spotify

import (
	"bytes"
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
)

var (
	ErrNoActiveDevice   = errors.New("no active playback device")
	ErrNotAuthenticated = errors.New("not logged in to music service")
)

// StatusError reports a non-2xx answer from the music service.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api %s returned status %d", e.Path, e.Code)
}

// TokenSource supplies the bearer token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the Spotify Web API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	tokens    TokenSource
	userAgent string
}

const (
	defaultAPIBase   = "https://api.spotify.com"
	defaultUserAgent = "driftfm/0.1"
	defaultTimeout   = 10 * time.Second
)

func NewClient(apiBase string, tokens TokenSource, timeout time.Duration) (*Client, error) {
	base, err := parseBaseURL(apiBase, defaultAPIBase)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		tokens:    tokens,
		userAgent: defaultUserAgent,
	}, nil
}

func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var payload Profile
	if _, err := c.do(ctx, http.MethodGet, &url.URL{Path: "/v1/me"}, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// PlaybackState returns nil when nothing is playing anywhere.
func (c *Client) PlaybackState(ctx context.Context) (*PlaybackState, error) {
	var payload PlaybackState
	status, err := c.do(ctx, http.MethodGet, &url.URL{Path: "/v1/me/player"}, nil, &payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &payload, nil
}

// CurrentlyPlaying returns nil when nothing is playing.
func (c *Client) CurrentlyPlaying(ctx context.Context) (*CurrentlyPlaying, error) {
	var payload CurrentlyPlaying
	status, err := c.do(ctx, http.MethodGet, &url.URL{Path: "/v1/me/player/currently-playing"}, nil, &payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &payload, nil
}

func (c *Client) Queue(ctx context.Context) (*Queue, error) {
	var payload Queue
	if _, err := c.do(ctx, http.MethodGet, &url.URL{Path: "/v1/me/player/queue"}, nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ActiveDevice reports the device the service considers active.
func (c *Client) ActiveDevice(ctx context.Context) (Device, error) {
	state, err := c.PlaybackState(ctx)
	if err != nil {
		return Device{}, err
	}
	if state == nil || state.Device == nil || !state.Device.IsActive || state.Device.ID == "" {
		return Device{}, ErrNoActiveDevice
	}
	return *state.Device, nil
}

func (c *Client) Play(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPut, &url.URL{Path: "/v1/me/player/play"}, nil, nil)
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPut, &url.URL{Path: "/v1/me/player/pause"}, nil, nil)
	return err
}

func (c *Client) Next(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, &url.URL{Path: "/v1/me/player/next"}, nil, nil)
	return err
}

func (c *Client) Previous(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, &url.URL{Path: "/v1/me/player/previous"}, nil, nil)
	return err
}

// Recommendations returns the track URIs of a genre-seeded recommendation set.
func (c *Client) Recommendations(ctx context.Context, query RecommendationQuery) ([]string, error) {
	if len(query.SeedGenres) == 0 {
		return nil, errors.New("at least one seed genre required")
	}
	values := url.Values{}
	values.Set("seed_genres", strings.Join(query.SeedGenres, ","))
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.MinEnergy > 0 {
		values.Set("min_energy", strconv.FormatFloat(query.MinEnergy, 'f', -1, 64))
	}
	if query.MinPopularity > 0 {
		values.Set("min_popularity", strconv.Itoa(query.MinPopularity))
	}
	rel := &url.URL{Path: "/v1/recommendations", RawQuery: values.Encode()}
	var payload recommendationsResponse
	if _, err := c.do(ctx, http.MethodGet, rel, nil, &payload); err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(payload.Tracks))
	for _, track := range payload.Tracks {
		if track.URI != "" {
			uris = append(uris, track.URI)
		}
	}
	return uris, nil
}

// PlayTracks starts playback of uris on deviceID.
func (c *Client) PlayTracks(ctx context.Context, deviceID string, uris []string) error {
	if deviceID == "" {
		return ErrNoActiveDevice
	}
	values := url.Values{}
	values.Set("device_id", deviceID)
	rel := &url.URL{Path: "/v1/me/player/play", RawQuery: values.Encode()}
	_, err := c.do(ctx, http.MethodPut, rel, playRequest{URIs: uris}, nil)
	return err
}

func (c *Client) do(ctx context.Context, method string, rel *url.URL, body, dest any) (int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return resp.StatusCode, fmt.Errorf("api %s: %w", rel.Path, ErrNotAuthenticated)
	case resp.StatusCode == http.StatusNotFound && strings.HasPrefix(rel.Path, "/v1/me/player"):
		// the player endpoints answer 404 when there is no device to act on
		return resp.StatusCode, fmt.Errorf("api %s: %w", rel.Path, ErrNoActiveDevice)
	case resp.StatusCode >= 400:
		return resp.StatusCode, &StatusError{Path: rel.Path, Code: resp.StatusCode}
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func parseBaseURL(raw, fallback string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = fallback
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", raw, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
