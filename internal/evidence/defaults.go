package evidence

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Options configures the built-in provider set.
type Options struct {
	CoinGeckoURL    string
	BinanceURL      string
	PerplexityURL   string
	PerplexityKey   string
	PerplexityModel string
	HTTPClient      *http.Client

	// Cache, when set, memoizes records for CacheTTL.
	Cache    domain.EvidenceCache
	CacheTTL time.Duration

	// Limiter, when set, allows RateLimit calls per minute per source.
	Limiter   domain.RateLimiter
	RateLimit int
}

// NewDefaultRegistry builds the standard category map:
//
//	crypto:  CoinGecko, Binance, CoinMarketCap
//	sports:  ESPN, TheScore
//	general: Perplexity AI, Google News
func NewDefaultRegistry(opts Options, logger *slog.Logger) *Registry {
	var client httpDoer
	if opts.HTTPClient != nil {
		client = opts.HTTPClient
	}

	wrap := func(src Source) Source {
		if opts.Limiter != nil && opts.RateLimit > 0 {
			src = RateLimited(src, opts.Limiter, opts.RateLimit, time.Minute)
		}
		if opts.Cache != nil && opts.CacheTTL > 0 {
			src = Cached(src, opts.Cache, opts.CacheTTL, logger)
		}
		return src
	}

	reg := NewRegistry()
	reg.Register(domain.CategoryCrypto,
		wrap(NewCoinGecko(opts.CoinGeckoURL, client)),
		wrap(NewBinance(opts.BinanceURL, client)),
		wrap(NewPlaceholder("CoinMarketCap")),
	)
	reg.Register(domain.CategorySports,
		wrap(NewPlaceholder("ESPN")),
		wrap(NewPlaceholder("TheScore")),
	)
	reg.Register(domain.CategoryGeneral,
		wrap(NewPerplexity(opts.PerplexityURL, opts.PerplexityKey, opts.PerplexityModel, client)),
		wrap(NewPlaceholder("Google News")),
	)
	return reg
}
