package evidence

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Default provider endpoints.
const (
	DefaultCoinGeckoURL    = "https://api.coingecko.com"
	DefaultBinanceURL      = "https://api.binance.com"
	DefaultPerplexityURL   = "https://api.perplexity.ai"
	DefaultPerplexityModel = "sonar-small-online"
)

// ---------------------------------------------------------------------------
// CoinGecko
// ---------------------------------------------------------------------------

// CoinGecko reports spot prices for the majors. It records prices as data
// and leaves the answer unknown; matching a price to the question is not
// attempted.
type CoinGecko struct {
	baseURL string
	coins   []string
	client  httpDoer
	now     func() time.Time
}

// NewCoinGecko creates a CoinGecko source. An empty baseURL selects the
// public API.
func NewCoinGecko(baseURL string, client httpDoer) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if client == nil {
		client = defaultHTTPClient
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		coins:   []string{"bitcoin", "ethereum", "binancecoin"},
		client:  client,
		now:     time.Now,
	}
}

// Name implements Source.
func (c *CoinGecko) Name() string { return "CoinGecko" }

// Fetch implements Source.
func (c *CoinGecko) Fetch(ctx context.Context, _ string) (domain.EvidenceRecord, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(c.coins, ","))
	params.Set("vs_currencies", "usd")

	var prices map[string]map[string]float64
	if err := getJSON(ctx, c.client, c.baseURL+"/api/v3/simple/price?"+params.Encode(), &prices); err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("coingecko: simple price: %w", err)
	}

	data := make(map[string]any, len(prices))
	for coin, quote := range prices {
		data[coin] = map[string]any{"usd": quote["usd"]}
	}
	return domain.EvidenceRecord{
		Source:    c.Name(),
		Data:      data,
		Answer:    domain.AnswerUnknown,
		Timestamp: c.now().UTC(),
	}, nil
}

// ---------------------------------------------------------------------------
// Binance
// ---------------------------------------------------------------------------

// Binance reports the BTC/USDT last price.
type Binance struct {
	baseURL string
	symbol  string
	client  httpDoer
	now     func() time.Time
}

// NewBinance creates a Binance source. An empty baseURL selects the public
// API.
func NewBinance(baseURL string, client httpDoer) *Binance {
	if baseURL == "" {
		baseURL = DefaultBinanceURL
	}
	if client == nil {
		client = defaultHTTPClient
	}
	return &Binance{
		baseURL: strings.TrimRight(baseURL, "/"),
		symbol:  "BTCUSDT",
		client:  client,
		now:     time.Now,
	}
}

// Name implements Source.
func (b *Binance) Name() string { return "Binance" }

// Fetch implements Source.
func (b *Binance) Fetch(ctx context.Context, _ string) (domain.EvidenceRecord, error) {
	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := getJSON(ctx, b.client, b.baseURL+"/api/v3/ticker/price?symbol="+url.QueryEscape(b.symbol), &ticker); err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("binance: ticker price: %w", err)
	}
	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("binance: parse price %q: %w", ticker.Price, err)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return domain.EvidenceRecord{}, fmt.Errorf("binance: non-finite price %q", ticker.Price)
	}
	return domain.EvidenceRecord{
		Source:    b.Name(),
		Data:      map[string]any{"btc_price": price},
		Answer:    domain.AnswerUnknown,
		Timestamp: b.now().UTC(),
	}, nil
}

// ---------------------------------------------------------------------------
// Perplexity
// ---------------------------------------------------------------------------

// Perplexity asks an online LLM for a YES/NO answer. Without an API key it
// returns an unknown record so the general set still has a voter slot.
type Perplexity struct {
	baseURL string
	apiKey  string
	model   string
	client  httpDoer
	now     func() time.Time
}

// NewPerplexity creates a Perplexity source.
func NewPerplexity(baseURL, apiKey, model string, client httpDoer) *Perplexity {
	if baseURL == "" {
		baseURL = DefaultPerplexityURL
	}
	if model == "" {
		model = DefaultPerplexityModel
	}
	if client == nil {
		client = defaultHTTPClient
	}
	return &Perplexity{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		client:  client,
		now:     time.Now,
	}
}

// Name implements Source.
func (p *Perplexity) Name() string { return "Perplexity AI" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fetch implements Source.
func (p *Perplexity) Fetch(ctx context.Context, question string) (domain.EvidenceRecord, error) {
	if p.apiKey == "" {
		return domain.EvidenceRecord{
			Source:    p.Name(),
			Data:      map[string]any{},
			Answer:    domain.AnswerUnknown,
			Timestamp: p.now().UTC(),
		}, nil
	}

	payload := map[string]any{
		"model": p.model,
		"messages": []chatMessage{
			{Role: "system", Content: "Answer with YES or NO only. Be factual."},
			{Role: "user", Content: question},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}

	var resp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, p.client, p.baseURL+"/chat/completions", headers, payload, &resp); err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("perplexity: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.EvidenceRecord{}, fmt.Errorf("perplexity: empty choices")
	}

	text := strings.ToLower(resp.Choices[0].Message.Content)
	return domain.EvidenceRecord{
		Source:    p.Name(),
		Data:      map[string]any{"raw_answer": text},
		Answer:    domain.AnswerFromBool(strings.Contains(text, "yes")),
		Timestamp: p.now().UTC(),
	}, nil
}

// ---------------------------------------------------------------------------
// Placeholders
// ---------------------------------------------------------------------------

// Placeholder is a provider slot without an integration yet. It always
// succeeds with empty data and an unknown answer.
type Placeholder struct {
	name string
	now  func() time.Time
}

// NewPlaceholder creates a placeholder source with the given display name.
func NewPlaceholder(name string) *Placeholder {
	return &Placeholder{name: name, now: time.Now}
}

// Name implements Source.
func (p *Placeholder) Name() string { return p.name }

// Fetch implements Source.
func (p *Placeholder) Fetch(ctx context.Context, _ string) (domain.EvidenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.EvidenceRecord{}, err
	}
	return domain.EvidenceRecord{
		Source:    p.name,
		Data:      map[string]any{},
		Answer:    domain.AnswerUnknown,
		Timestamp: p.now().UTC(),
	}, nil
}

var (
	_ Source = (*CoinGecko)(nil)
	_ Source = (*Binance)(nil)
	_ Source = (*Perplexity)(nil)
	_ Source = (*Placeholder)(nil)
	_ Source = SourceFunc{}
)
