package discovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/certen/intent-solver/pkg/chainadapter"
	"github.com/certen/intent-solver/pkg/logging"
	"github.com/certen/intent-solver/pkg/solvertypes"
	"github.com/certen/intent-solver/pkg/storage"
)

// OnChainConfig configures one polling discovery source: a poll
// interval, a per-chain starting height, and a batch size bound.
type OnChainConfig struct {
	ChainID             uint64
	Addresses           []solvertypes.Address
	StandardBySignature map[[32]byte]string // topic0 -> resolved standard
	StartBlock          *uint64
	PollInterval        time.Duration
	MaxBlocksPerRequest uint64
}

// OnChainSource polls eth_getLogs on a fixed interval, persists the last
// processed block so restarts resume monotonically, and emits one Intent
// per matching log.
type OnChainSource struct {
	cfg     OnChainConfig
	adapter chainadapter.Adapter
	store   storage.Store
	logger  *logging.Logger
}

func NewOnChainSource(cfg OnChainConfig, adapter chainadapter.Adapter, store storage.Store, logger *logging.Logger) *OnChainSource {
	if logger == nil {
		logger = logging.Default().WithComponent("discovery").WithChain(cfg.ChainID)
	}
	if cfg.MaxBlocksPerRequest == 0 {
		cfg.MaxBlocksPerRequest = 2000
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 12 * time.Second
	}
	return &OnChainSource{cfg: cfg, adapter: adapter, store: store, logger: logger}
}

func (s *OnChainSource) Name() string {
	return fmt.Sprintf("onchain-%d", s.cfg.ChainID)
}

func lastBlockKey(chainID uint64) string {
	return fmt.Sprintf("discovery/last_block/%d", chainID)
}

func (s *OnChainSource) loadLastProcessed(ctx context.Context) (uint64, error) {
	raw, err := s.store.Get(lastBlockKey(s.cfg.ChainID))
	if err == nil && len(raw) == 8 {
		return binary.BigEndian.Uint64(raw), nil
	}

	if s.cfg.StartBlock != nil {
		return *s.cfg.StartBlock, nil
	}

	latest, err := s.adapter.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("discovery: fetch latest block: %w", err)
	}
	if latest > 5 {
		return latest - 5, nil
	}
	return 0, nil
}

func (s *OnChainSource) saveLastProcessed(block uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, block)
	return s.store.Set(lastBlockKey(s.cfg.ChainID), buf)
}

// Start implements Source. It runs until ctx is cancelled.
func (s *OnChainSource) Start(ctx context.Context, intents chan<- solvertypes.Intent) error {
	lastProcessed, err := s.loadLastProcessed(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("starting on-chain discovery",
		"from_block", lastProcessed, "poll_interval", s.cfg.PollInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next, err := s.pollOnce(ctx, lastProcessed, intents)
			if err != nil {
				s.logger.WithError(err).Warn("poll failed")
				continue
			}
			lastProcessed = next
		}
	}
}

func (s *OnChainSource) pollOnce(ctx context.Context, lastProcessed uint64, intents chan<- solvertypes.Intent) (uint64, error) {
	latest, err := s.adapter.BlockNumber(ctx)
	if err != nil {
		return lastProcessed, fmt.Errorf("fetch latest block: %w", err)
	}

	from := lastProcessed + 1
	if latest < from {
		// No new block yet, or the node height regressed (network switch
		// / reorg past our window); skip this round rather than erroring.
		return lastProcessed, nil
	}
	to := latest
	if to > from+s.cfg.MaxBlocksPerRequest-1 {
		to = from + s.cfg.MaxBlocksPerRequest - 1
	}
	if to < from {
		return lastProcessed, nil
	}

	for _, addr := range s.addressesOrWildcard() {
		filter := solvertypes.LogFilter{FromBlock: from, ToBlock: to}
		if addr != nil {
			filter.Address = addr
		}
		logs, err := s.adapter.Logs(ctx, filter)
		if err != nil {
			return lastProcessed, fmt.Errorf("fetch logs: %w", err)
		}
		for _, l := range logs {
			if err := s.emit(ctx, l, intents); err != nil {
				return lastProcessed, err
			}
		}
	}

	if err := s.saveLastProcessed(to); err != nil {
		s.logger.WithError(err).Warn("failed to persist last processed block")
	}
	return to, nil
}

func (s *OnChainSource) addressesOrWildcard() []*solvertypes.Address {
	if len(s.cfg.Addresses) == 0 {
		return []*solvertypes.Address{nil}
	}
	out := make([]*solvertypes.Address, len(s.cfg.Addresses))
	for i := range s.cfg.Addresses {
		out[i] = &s.cfg.Addresses[i]
	}
	return out
}

func (s *OnChainSource) emit(ctx context.Context, l solvertypes.Log, intents chan<- solvertypes.Intent) error {
	if len(l.Topics) == 0 {
		return nil
	}
	standard, ok := s.cfg.StandardBySignature[l.Topics[0]]
	if !ok {
		return nil
	}

	intent := solvertypes.Intent{
		ID:       fmt.Sprintf("%x-%d", l.TxHash, l.LogIndex),
		Source:   s.Name(),
		Standard: standard,
		Metadata: solvertypes.IntentMetadata{DiscoveredAt: uint64(time.Now().Unix())},
		Data:     encodeRawLog(l),
	}

	select {
	case intents <- intent:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
