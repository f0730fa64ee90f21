package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-cavro/tecanapi"
)

// nodeEnvelope is the JSON body returned by a node bridge.
type nodeEnvelope struct {
	Msg string `json:"MSG"`
}

// NodeLink talks to one pump through an HTTP serial bridge.
type NodeLink struct {
	*retrier

	endpoint *url.URL
	addr     int
	client   *http.Client

	mu     sync.Mutex
	closed atomic.Bool
}

var _ Link = (*NodeLink)(nil)

// NewNodeLink creates a link to the pump at addr behind the bridge at
// nodeAddr ("host:port", optionally prefixed with a scheme). cfg may be nil.
func NewNodeLink(nodeAddr string, addr int, cfg *LinkConfig) (*NodeLink, error) {
	if cfg == nil {
		var err error
		if cfg, err = NewLinkConfig(); err != nil {
			return nil, err
		}
	}

	if !strings.Contains(nodeAddr, "://") {
		nodeAddr = "http://" + nodeAddr
	}
	base, err := url.Parse(nodeAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid node address %q: %w", nodeAddr, err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("transport: invalid node address %q: missing host", nodeAddr)
	}

	r, err := newRetrier(cfg, addr, cfg.logger.With("node", base.Host, "address", addr))
	if err != nil {
		return nil, err
	}

	return &NodeLink{
		retrier:  r,
		endpoint: base.JoinPath("syringe"),
		addr:     addr,
		client:   cfg.client(),
	}, nil
}

// Address implements Link.
func (l *NodeLink) Address() int { return l.addr }

// Metrics implements Link.
func (l *NodeLink) Metrics() *LinkMetrics { return l.metrics }

// SendRcv implements Link.
func (l *NodeLink) SendRcv(ctx context.Context, cmd []byte) (*tecanapi.Response, error) {
	if l.closed.Load() {
		return nil, ErrLinkClosed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sendRcv(ctx, cmd, l.exchange)
}

// Close implements Link.
func (l *NodeLink) Close() error {
	l.closed.Store(true)
	return nil
}

func (l *NodeLink) exchange(ctx context.Context, frame []byte) (*tecanapi.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.timeout)
	defer cancel()

	u := *l.endpoint
	q := url.Values{}
	q.Set("LENGTH", strconv.Itoa(len(frame)))
	q.Set("SYRINGE", hex.EncodeToString(frame))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errNoReply
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: http status %d", ErrBadEnvelope, resp.StatusCode)
	}

	var env nodeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}

	raw, err := hex.DecodeString(strings.TrimSpace(env.Msg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadEnvelope, err)
	}

	return tecanapi.ParseFrame(raw)
}
