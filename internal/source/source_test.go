package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/marketfeed/internal/api"
	"github.com/rickgao/marketfeed/internal/cache"
	"github.com/rickgao/marketfeed/internal/model"
)

var preference = []string{"USDT", "BUSD", "USDC", "USD"}

func byID(assets []model.Asset) map[string]model.Asset {
	out := make(map[string]model.Asset, len(assets))
	for _, a := range assets {
		out[a.ID] = a
	}
	return out
}

const binanceExchangeInfo = `{
  "timezone": "UTC",
  "serverTime": 1700000000000,
  "symbols": [
    {"symbol": "BTCUSDT", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT"},
    {"symbol": "ETHUSDT", "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "USDT"},
    {"symbol": "XRPBUSD", "status": "TRADING", "baseAsset": "XRP", "quoteAsset": "BUSD"},
    {"symbol": "ETHBTC",  "status": "TRADING", "baseAsset": "ETH", "quoteAsset": "BTC"},
    {"symbol": "LUNAUSDT", "status": "BREAK", "baseAsset": "LUNA", "quoteAsset": "USDT"}
  ]
}`

const binanceTickers = `[
  {"symbol": "BTCUSDT", "lastPrice": "64000.50", "priceChangePercent": "2.10", "quoteVolume": "900000000", "weightedAvgPrice": "63500.00", "closeTime": 1700000000000},
  {"symbol": "ETHUSDT", "lastPrice": "3200.00", "priceChangePercent": "-1.20", "quoteVolume": "400000000", "weightedAvgPrice": "3210.00", "closeTime": 1700000000000},
  {"symbol": "XRPBUSD", "lastPrice": "0.55", "priceChangePercent": "0.50", "quoteVolume": "10000000", "weightedAvgPrice": "", "closeTime": 1700000000000},
  {"symbol": "ETHBTC", "lastPrice": "0.05", "priceChangePercent": "0.10", "quoteVolume": "1000", "weightedAvgPrice": "0.05", "closeTime": 1700000000000},
  {"symbol": "LUNAUSDT", "lastPrice": "0.0001", "priceChangePercent": "0", "quoteVolume": "1", "weightedAvgPrice": "0", "closeTime": 1700000000000}
]`

func newBinanceServer(t *testing.T, infoCalls, tickerCalls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			atomic.AddInt32(infoCalls, 1)
			w.Write([]byte(binanceExchangeInfo))
		case "/api/v3/ticker/24hr":
			atomic.AddInt32(tickerCalls, 1)
			w.Write([]byte(binanceTickers))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestBinance_Fetch(t *testing.T) {
	var infoCalls, tickerCalls int32
	server := newBinanceServer(t, &infoCalls, &tickerCalls)

	src := NewBinance(BinanceConfig{
		BaseURL:         server.URL,
		QuotePreference: []string{"USDT", "BUSD"},
		SymbolTTL:       time.Minute,
		TickerTTL:       15 * time.Second,
	}, cache.New(15*time.Second), nil)

	assets, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SourceBinance, src.Name())

	got := byID(assets)
	require.Len(t, got, 3)
	assert.Contains(t, got, "btc-usdt")
	assert.Contains(t, got, "eth-usdt")
	assert.Contains(t, got, "xrp-busd")

	btc := got["btc-usdt"]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, "USDT", btc.Quote)
	assert.Equal(t, 64000.50, btc.PriceUSD)
	assert.Equal(t, 2.10, btc.ChangePercent24Hr)
	assert.Equal(t, 900000000.0, btc.VolumeUSD24Hr)
	require.NotNil(t, btc.VWAP24Hr)
	assert.Equal(t, 63500.0, *btc.VWAP24Hr)

	assert.Nil(t, got["xrp-busd"].VWAP24Hr, "empty weighted price is absent, not zero")

	// Second fetch is served from the cache.
	_, err = src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&infoCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&tickerCalls))
}

func TestBinance_FetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code": -1000, "msg": "internal"}`))
	}))
	defer server.Close()

	c := cache.New(time.Minute)
	src := NewBinance(BinanceConfig{BaseURL: server.URL, QuotePreference: preference}, c, nil)

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, c.Len(), "failed calls are not cached")
}

const bybitTickers = `{
  "retCode": 0,
  "retMsg": "OK",
  "result": {
    "category": "spot",
    "list": [
      {"symbol": "BTCUSDT", "lastPrice": "64010.1", "price24hPcnt": "0.0215", "turnover24h": "500000000", "volume24h": "7800"},
      {"symbol": "SOLUSDC", "lastPrice": "150.25", "price24hPcnt": "-0.031", "turnover24h": "20000000", "volume24h": "130000"},
      {"symbol": "ETHBTC", "lastPrice": "0.05", "price24hPcnt": "0.001", "turnover24h": "100", "volume24h": "2000"},
      {"symbol": "DOGEUSDT", "lastPrice": "", "price24hPcnt": "0", "turnover24h": "1", "volume24h": "1"}
    ]
  },
  "retExtInfo": {},
  "time": 1700000000000
}`

func TestBybit_Fetch(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/v5/market/tickers" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("category") != "spot" {
			t.Errorf("category = %q", r.URL.Query().Get("category"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(bybitTickers))
	}))
	defer server.Close()

	src := NewBybit(BybitConfig{
		BaseURL:         server.URL,
		QuotePreference: preference,
		TickerTTL:       time.Minute,
	}, cache.New(time.Minute), nil)

	assets, err := src.Fetch(context.Background())
	require.NoError(t, err)

	got := byID(assets)
	require.Len(t, got, 2)

	btc := got["btc-usdt"]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.InDelta(t, 2.15, btc.ChangePercent24Hr, 1e-9)
	assert.Equal(t, 500000000.0, btc.VolumeUSD24Hr)

	sol := got["sol-usdc"]
	assert.Equal(t, "USDC", sol.Quote)
	assert.InDelta(t, -3.1, sol.ChangePercent24Hr, 1e-9)

	_, err = src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBybit_SplitSymbolPrefersLongestQuote(t *testing.T) {
	src := NewBybit(BybitConfig{QuotePreference: []string{"USD", "BUSD", "USDT"}}, cache.New(time.Minute), nil)

	tests := []struct {
		symbol    string
		base      string
		quote     string
		wantSplit bool
	}{
		{"BTCUSDT", "BTC", "USDT", true},
		{"XRPBUSD", "XRP", "BUSD", true},
		{"ETHUSD", "ETH", "USD", true},
		{"USDT", "", "", false},
		{"ETHBTC", "", "", false},
	}
	for _, tt := range tests {
		base, quote, ok := src.splitSymbol(tt.symbol)
		assert.Equal(t, tt.wantSplit, ok, tt.symbol)
		assert.Equal(t, tt.base, base, tt.symbol)
		assert.Equal(t, tt.quote, quote, tt.symbol)
	}
}

func TestCoinCap_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"bitcoin","rank":"1","symbol":"BTC","name":"Bitcoin","supply":"19500000","maxSupply":"21000000","marketCapUsd":"1250000000000","volumeUsd24Hr":"15000000000","priceUsd":"64102.5","changePercent24Hr":"1.75","vwap24Hr":"63900","explorer":"https://blockchain.info/"},
			{"id":"tether","rank":"3","symbol":"USDT","name":"Tether","supply":"100000000000","maxSupply":null,"marketCapUsd":"100000000000","volumeUsd24Hr":"50000000000","priceUsd":"1.0001","changePercent24Hr":"0.01","vwap24Hr":null,"explorer":""},
			{"id":"ghost","rank":"99","symbol":"GHST","name":"Ghost","priceUsd":null}
		],"timestamp":1700000000000}`))
	}))
	defer server.Close()

	client := api.NewClient(api.Config{BaseURL: server.URL, MaxRetries: -1}, nil)
	src := NewCoinCap(client, CoinCapConfig{PageSize: 100, TTL: time.Minute}, cache.New(time.Minute), nil)

	assets, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SourceCoinCap, src.Name())

	got := byID(assets)
	require.Len(t, got, 2)

	btc := got["btc-usd"]
	assert.Equal(t, "Bitcoin", btc.Name)
	assert.Equal(t, "https://blockchain.info/", btc.Explorer)
	require.NotNil(t, btc.MarketCapUSD)
	assert.Equal(t, 1250000000000.0, *btc.MarketCapUSD)
	require.NotNil(t, btc.MaxSupply)
	assert.Equal(t, 21000000.0, *btc.MaxSupply)

	usdt := got["usdt-usd"]
	assert.Nil(t, usdt.MaxSupply)
	assert.Nil(t, usdt.VWAP24Hr)
}

func TestCoinCap_EmptyIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[],"timestamp":1}`))
	}))
	defer server.Close()

	client := api.NewClient(api.Config{BaseURL: server.URL}, nil)
	src := NewCoinCap(client, CoinCapConfig{}, cache.New(time.Minute), nil)

	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestConvertCoinCap_MissingMetricsAreZero(t *testing.T) {
	got, ok := convertCoinCap(&api.APIAsset{
		ID:                "dust",
		Symbol:            "dst",
		PriceUSD:          "0.5",
		VolumeUSD24Hr:     "",
		ChangePercent24Hr: "n/a",
	}, 1)
	require.True(t, ok)
	assert.Equal(t, "dst-usd", got.ID)
	assert.Zero(t, got.VolumeUSD24Hr)
	assert.Zero(t, got.ChangePercent24Hr)
	assert.Nil(t, got.MarketCapUSD)
	assert.Zero(t, got.SizeMetric())
}

func TestFunc(t *testing.T) {
	src := Func{
		SourceName: "fake",
		FetchFunc: func(ctx context.Context) ([]model.Asset, error) {
			return []model.Asset{{ID: "a"}}, nil
		},
	}
	assets, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fake", src.Name())
	assert.Len(t, assets, 1)
}

func TestAssetID(t *testing.T) {
	assert.Equal(t, "btc-usdt", AssetID("BTC", "USDT"))
}
