// Package httptracker announces torrents to HTTP trackers.
package httptracker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/drizzle/internal/logger"
	"github.com/cenkalti/drizzle/internal/tracker"
)

// maxResponseLength limits the size of the body read from the tracker.
const maxResponseLength = 2 * 1024 * 1024

// HTTPTracker is a client for a single HTTP tracker.
type HTTPTracker struct {
	rawURL    string
	url       *url.URL
	log       logger.Logger
	http      *http.Client
	transport *http.Transport
	userAgent string
}

// New returns a new HTTPTracker for the announce URL.
func New(rawURL string, timeout time.Duration, userAgent string) (*HTTPTracker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported tracker scheme: %q", u.Scheme)
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
		DisableKeepAlives:   true,
	}
	return &HTTPTracker{
		rawURL:    rawURL,
		url:       u,
		log:       logger.New("tracker " + u.String()),
		transport: transport,
		userAgent: userAgent,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// URL returns the announce URL of the tracker.
func (t *HTTPTracker) URL() string {
	return t.rawURL
}

// Announce sends an announce request and returns the peers in the response.
func (t *HTTPTracker) Announce(ctx context.Context, req tracker.AnnounceRequest) (*tracker.AnnounceResponse, error) {
	q := t.url.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", strconv.FormatUint(uint64(req.Port), 10))
	q.Set("uploaded", strconv.FormatInt(req.BytesUploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.BytesDownloaded, 10))
	q.Set("left", strconv.FormatInt(req.BytesLeft, 10))
	q.Set("compact", "1")
	q.Set("no_peer_id", "1")
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}
	if req.Event != tracker.EventNone {
		q.Set("event", req.Event.String())
	}

	u := *t.url
	u.RawQuery = q.Encode()
	t.log.Debugf("making request to: %q", u.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLength))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Code:   resp.StatusCode,
			Header: resp.Header,
			Body:   string(body),
		}
	}

	response, err := tracker.ParseResponse(body)
	if err != nil {
		return nil, err
	}
	if response.WarningMessage != "" {
		t.log.Warning(response.WarningMessage)
	}
	t.log.Debugf("Announce response: %d peers, interval: %s", len(response.Peers), response.Interval)
	return response, nil
}

// Close releases idle connections of the underlying transport.
func (t *HTTPTracker) Close() error {
	t.transport.CloseIdleConnections()
	return nil
}
