package evidence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

func TestCoinGeckoFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/simple/price" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("vs_currencies = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000.5},"ethereum":{"usd":3200}}`))
	}))
	defer srv.Close()

	rec, err := NewCoinGecko(srv.URL, srv.Client()).Fetch(context.Background(), "BTC above 60k?")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Source != "CoinGecko" || rec.Answer != domain.AnswerUnknown {
		t.Fatalf("record = %+v", rec)
	}
	btc, ok := rec.Data["bitcoin"].(map[string]any)
	if !ok || btc["usd"] != 65000.5 {
		t.Fatalf("bitcoin data = %#v", rec.Data["bitcoin"])
	}
}

func TestBinanceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q", got)
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"64999.10000000"}`))
	}))
	defer srv.Close()

	rec, err := NewBinance(srv.URL, srv.Client()).Fetch(context.Background(), "q")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Data["btc_price"] != 64999.1 {
		t.Fatalf("btc_price = %#v", rec.Data["btc_price"])
	}
}

func TestBinanceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	if _, err := NewBinance(srv.URL, srv.Client()).Fetch(context.Background(), "q"); err == nil {
		t.Fatal("Fetch against 418: want error")
	}
}

func TestBinanceRejectsNonFinitePrice(t *testing.T) {
	for _, price := range []string{"NaN", "Inf", "-Inf", "+Infinity"} {
		t.Run(price, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"` + price + `"}`))
			}))
			defer srv.Close()

			if _, err := NewBinance(srv.URL, srv.Client()).Fetch(context.Background(), "q"); err == nil {
				t.Fatalf("price %q accepted", price)
			}
		})
	}
}

func TestPerplexityFetch(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  domain.Answer
	}{
		{"yes", "YES. It happened.", domain.AnswerYes},
		{"no", "No.", domain.AnswerNo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/chat/completions" {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer secret" {
					t.Errorf("Authorization = %q", got)
				}
				var body struct {
					Model    string        `json:"model"`
					Messages []chatMessage `json:"messages"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("decode body: %v", err)
				}
				if len(body.Messages) != 2 || body.Messages[1].Content != "Did it happen?" {
					t.Errorf("messages = %+v", body.Messages)
				}
				resp := map[string]any{
					"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": tt.reply}}},
				}
				_ = json.NewEncoder(w).Encode(resp)
			}))
			defer srv.Close()

			rec, err := NewPerplexity(srv.URL, "secret", "", srv.Client()).Fetch(context.Background(), "Did it happen?")
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if rec.Answer != tt.want {
				t.Fatalf("Answer = %v, want %v", rec.Answer, tt.want)
			}
		})
	}
}

func TestPerplexityWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected without an API key")
	}))
	defer srv.Close()

	rec, err := NewPerplexity(srv.URL, "  ", "", srv.Client()).Fetch(context.Background(), "q")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if rec.Answer != domain.AnswerUnknown || rec.Source != "Perplexity AI" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestPerplexityEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	if _, err := NewPerplexity(srv.URL, "k", "", srv.Client()).Fetch(context.Background(), "q"); err == nil {
		t.Fatal("Fetch with no choices: want error")
	}
}

func TestPlaceholderHonoursCancel(t *testing.T) {
	p := NewPlaceholder("ESPN")
	rec, err := p.Fetch(context.Background(), "q")
	if err != nil || rec.Source != "ESPN" || rec.Answer != domain.AnswerUnknown {
		t.Fatalf("Fetch = %+v, %v", rec, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Fetch(ctx, "q"); err == nil {
		t.Fatal("Fetch on cancelled context: want error")
	}
}
