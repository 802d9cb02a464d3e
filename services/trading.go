package services

import (
	"context"
	"time"

	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
)

// Default TTLs for market data; prices go stale quickly.
const (
	TradingDataTTL = 30 * time.Second
	OrderBookTTL   = 5 * time.Second
	MarketPriceTTL = 10 * time.Second
	PortfolioTTL   = time.Minute
)

type TradingData struct {
	Symbol    string    `json:"symbol" msgpack:"symbol"`
	Price     float64   `json:"price" msgpack:"price"`
	Volume24h float64   `json:"volume24h" msgpack:"volume24h"`
	Change24h float64   `json:"change24h" msgpack:"change24h"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

type OrderLevel struct {
	Price    float64 `json:"price" msgpack:"price"`
	Quantity float64 `json:"quantity" msgpack:"quantity"`
}

type OrderBook struct {
	Symbol    string       `json:"symbol" msgpack:"symbol"`
	Bids      []OrderLevel `json:"bids" msgpack:"bids"`
	Asks      []OrderLevel `json:"asks" msgpack:"asks"`
	UpdatedAt time.Time    `json:"updatedAt" msgpack:"updatedAt"`
}

type MarketPrice struct {
	Symbol    string    `json:"symbol" msgpack:"symbol"`
	Price     float64   `json:"price" msgpack:"price"`
	UpdatedAt time.Time `json:"updatedAt" msgpack:"updatedAt"`
}

// TradingCache caches market data and portfolios.
type TradingCache struct {
	store  *cache.Store
	logger logger.Logger
}

func NewTradingCache(store *cache.Store) *TradingCache {
	return &TradingCache{store: store, logger: logger.WithComponent(store.Logger(), "trading")}
}

func (c *TradingCache) CacheTradingData(ctx context.Context, d TradingData, ttl time.Duration) bool {
	return c.store.Save(ctx, tradingDataKey(d.Symbol), d, ttlOr(ttl, TradingDataTTL), SymbolTag(d.Symbol))
}

func (c *TradingCache) GetTradingData(ctx context.Context, symbol string) (TradingData, bool) {
	return cache.GetValue[TradingData](ctx, c.store, tradingDataKey(symbol))
}

func (c *TradingCache) CacheOrderBook(ctx context.Context, ob OrderBook, ttl time.Duration) bool {
	return c.store.Save(ctx, orderBookKey(ob.Symbol), ob, ttlOr(ttl, OrderBookTTL), SymbolTag(ob.Symbol))
}

func (c *TradingCache) GetOrderBook(ctx context.Context, symbol string) (OrderBook, bool) {
	return cache.GetValue[OrderBook](ctx, c.store, orderBookKey(symbol))
}

func (c *TradingCache) CacheMarketPrice(ctx context.Context, symbol string, price float64, ttl time.Duration) bool {
	p := MarketPrice{Symbol: symbol, Price: price, UpdatedAt: time.Now().UTC()}
	return c.store.Save(ctx, marketPriceKey(symbol), p, ttlOr(ttl, MarketPriceTTL))
}

func (c *TradingCache) GetMarketPrice(ctx context.Context, symbol string) (MarketPrice, bool) {
	return cache.GetValue[MarketPrice](ctx, c.store, marketPriceKey(symbol))
}

// CacheMarketPrices writes every price in one round trip.
func (c *TradingCache) CacheMarketPrices(ctx context.Context, prices map[string]float64, ttl time.Duration) bool {
	now := time.Now().UTC()
	entries := make(map[string][]byte, len(prices))
	for symbol, price := range prices {
		data, err := c.store.Codec().Marshal(MarketPrice{Symbol: symbol, Price: price, UpdatedAt: now})
		if err != nil {
			c.logger.Warn("encode price %s: %v", symbol, err)
			return false
		}
		entries[marketPriceKey(symbol)] = data
	}
	return c.store.SetMany(ctx, entries, ttlOr(ttl, MarketPriceTTL))
}

// GetMarketPrices returns the cached prices among symbols. Missing symbols
// are absent from the result.
func (c *TradingCache) GetMarketPrices(ctx context.Context, symbols ...string) map[string]MarketPrice {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = marketPriceKey(s)
	}
	found := c.store.MGet(ctx, keys...)
	out := make(map[string]MarketPrice, len(found))
	for i, key := range keys {
		data, ok := found[key]
		if !ok {
			continue
		}
		var p MarketPrice
		if err := c.store.Codec().Unmarshal(data, &p); err != nil {
			c.logger.Warn("decode price %s: %v", symbols[i], err)
			continue
		}
		out[symbols[i]] = p
	}
	return out
}

func (c *TradingCache) CachePortfolio(ctx context.Context, userID string, portfolio any, ttl time.Duration) bool {
	return c.store.Save(ctx, portfolioKey(userID), portfolio, ttlOr(ttl, PortfolioTTL))
}

// GetPortfolio decodes the cached portfolio into out.
func (c *TradingCache) GetPortfolio(ctx context.Context, userID string, out any) bool {
	return c.store.Load(ctx, portfolioKey(userID), out)
}

// InvalidateSymbol drops everything cached for symbol.
func (c *TradingCache) InvalidateSymbol(ctx context.Context, symbol string) int {
	n := c.store.InvalidateTag(ctx, SymbolTag(symbol))
	n += c.store.InvalidatePattern(ctx, cache.Key(cache.PrefixTrading, symbol, "*"))
	if c.store.Exists(ctx, marketPriceKey(symbol)) {
		c.store.Del(ctx, marketPriceKey(symbol))
		n++
	}
	return n
}

// InvalidateAll drops all trading and market entries.
func (c *TradingCache) InvalidateAll(ctx context.Context) int {
	n := c.store.InvalidatePattern(ctx, cache.Key(cache.PrefixTrading, "*"))
	n += c.store.InvalidatePattern(ctx, cache.Key(cache.PrefixMarket, "*"))
	c.logger.Info("invalidated all trading data (%d keys)", n)
	return n
}
