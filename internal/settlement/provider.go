package settlement

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/metamarket/internal/crypto"
	"github.com/alanyoungcy/metamarket/internal/domain"
)

// Options selects and configures a provider.
type Options struct {
	Mode         string // mock | testnet | mainnet | relayer
	FailureRate  float64
	Latency      time.Duration
	RelayerURL   string
	RelayerKey   string
	RelayerSec   string
	PollInterval time.Duration
	Signer       *crypto.Signer
}

// New builds the provider for opts.Mode. testnet and mainnet use the relayer
// when a URL is configured and fall back to the mock otherwise.
func New(opts Options, logger *slog.Logger) (domain.SettlementProvider, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = "mock"
	}

	relayer := func() domain.SettlementProvider {
		return NewRelayer(RelayerConfig{
			BaseURL:      opts.RelayerURL,
			Key:          opts.RelayerKey,
			Secret:       opts.RelayerSec,
			PollInterval: opts.PollInterval,
		}, logger)
	}
	mock := func() domain.SettlementProvider {
		return NewMock(MockConfig{
			FailureRate: opts.FailureRate,
			Latency:     opts.Latency,
			Signer:      opts.Signer,
		}, logger)
	}

	switch mode {
	case "mock":
		return mock(), nil
	case "relayer":
		if opts.RelayerURL == "" {
			return nil, fmt.Errorf("settlement: relayer mode requires a relayer url")
		}
		return relayer(), nil
	case "testnet", "mainnet":
		if opts.RelayerURL != "" {
			return relayer(), nil
		}
		logger.Warn("no relayer configured, falling back to mock settlement",
			slog.String("mode", mode),
		)
		return mock(), nil
	default:
		return nil, fmt.Errorf("settlement: unknown mode %q", opts.Mode)
	}
}
