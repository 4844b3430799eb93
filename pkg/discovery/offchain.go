package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/certen/intent-solver/pkg/logging"
	"github.com/certen/intent-solver/pkg/solvertypes"
)

// OffchainMessage is the wire shape both transports below decode: the
// producer already knows the target OrderStandard and hands us its
// canonical bytes, so this source does no parsing of its own.
type OffchainMessage struct {
	ID              string `json:"id"`
	Standard        string `json:"standard"`
	Data            []byte `json:"data"`
	RequiresAuction bool   `json:"requires_auction,omitempty"`
	ExclusiveUntil  *uint64 `json:"exclusive_until,omitempty"`
}

// OffChainConfig configures one push/poll DiscoverySource per endpoint.
// An "ws://" or "wss://" Endpoint is dialed and read as a push feed; any
// other scheme is treated as an HTTP poll target, fetched on PollInterval
// and expected to return a JSON array of OffchainMessage.
type OffChainConfig struct {
	Endpoint      string
	PollInterval  time.Duration
	DialTimeout   time.Duration
	ReconnectWait time.Duration
}

// OffChainSource adapts a single off-chain feed into Intents, as either
// a websocket push stream or a periodic API poll. It reconnects a
// dropped websocket with backoff rather than exiting, since a transient
// feed outage is not fatal to the solver.
type OffChainSource struct {
	cfg    OffChainConfig
	client *http.Client
	logger *logging.Logger
}

func NewOffChainSource(cfg OffChainConfig) *OffChainSource {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	return &OffChainSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.DialTimeout},
		logger: logging.Default().WithComponent("discovery").With("endpoint", cfg.Endpoint),
	}
}

func (s *OffChainSource) Name() string {
	return fmt.Sprintf("offchain-%s", s.cfg.Endpoint)
}

func (s *OffChainSource) isPush() bool {
	return strings.HasPrefix(s.cfg.Endpoint, "ws://") || strings.HasPrefix(s.cfg.Endpoint, "wss://")
}

// Start implements Source. It runs until ctx is cancelled.
func (s *OffChainSource) Start(ctx context.Context, intents chan<- solvertypes.Intent) error {
	if s.isPush() {
		return s.runPush(ctx, intents)
	}
	return s.runPoll(ctx, intents)
}

func (s *OffChainSource) runPush(ctx context.Context, intents chan<- solvertypes.Intent) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, _, err := dialer.DialContext(ctx, s.cfg.Endpoint, nil)
		if err != nil {
			s.logger.WithError(err).Warn("dial failed", "retry_in", s.cfg.ReconnectWait)
			if !sleepCtx(ctx, s.cfg.ReconnectWait) {
				return nil
			}
			continue
		}
		s.logger.Info("connected")
		if err := s.readLoop(ctx, conn, intents); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Warn("connection lost", "reconnect_in", s.cfg.ReconnectWait)
		}
		conn.Close()
		if !sleepCtx(ctx, s.cfg.ReconnectWait) {
			return nil
		}
	}
}

func (s *OffChainSource) readLoop(ctx context.Context, conn *websocket.Conn, intents chan<- solvertypes.Intent) error {
	// A watcher closes the connection on ctx cancellation, unblocking
	// the goroutine's in-flight ReadMessage call.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		msg, err := decodeOffchainMessage(raw)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed message")
			continue
		}
		if err := s.emit(ctx, msg, intents); err != nil {
			return err
		}
	}
}

func (s *OffChainSource) runPoll(ctx context.Context, intents chan<- solvertypes.Intent) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("polling off-chain feed", "interval", s.cfg.PollInterval)
	if err := s.pollOnce(ctx, intents); err != nil {
		s.logger.WithError(err).Warn("poll failed")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.pollOnce(ctx, intents); err != nil {
				s.logger.WithError(err).Warn("poll failed")
			}
		}
	}
}

func (s *OffChainSource) pollOnce(ctx context.Context, intents chan<- solvertypes.Intent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var batch []OffchainMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}
	for _, msg := range batch {
		if err := s.emit(ctx, msg, intents); err != nil {
			return err
		}
	}
	return nil
}

func decodeOffchainMessage(raw []byte) (OffchainMessage, error) {
	var msg OffchainMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}

func (s *OffChainSource) emit(ctx context.Context, msg OffchainMessage, intents chan<- solvertypes.Intent) error {
	if msg.Standard == "" {
		return nil
	}
	id := msg.ID
	if id == "" {
		// A producer that can't assign a stable id (e.g. a raw webhook
		// relay) still gets at-least-once delivery: a random id just
		// means this message is never deduplicated against itself.
		id = uuid.NewString()
	}
	intent := solvertypes.Intent{
		ID:       id,
		Source:   s.Name(),
		Standard: msg.Standard,
		Metadata: solvertypes.IntentMetadata{
			DiscoveredAt:    uint64(time.Now().Unix()),
			RequiresAuction: msg.RequiresAuction,
			ExclusiveUntil:  msg.ExclusiveUntil,
		},
		Data: msg.Data,
	}
	select {
	case intents <- intent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sleepCtx waits for d or ctx cancellation, reporting which happened.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
