// Package normalizer reconciles each exchange's native symbol spelling into
// one canonical identity and merges per-exchange listings into a single
// multi-exchange view. Everything here is pure: no I/O, deterministic, and
// idempotent, so discovery passes can re-normalize freely.
package normalizer

import (
	"regexp"
	"strings"
	"time"

	"github.com/zhlu/coinsync/internal/models"
)

// quoteAssets is the prioritized list of quote currencies tried as a suffix
// when splitting a canonical symbol into base/quote.
var quoteAssets = []string{"USDT", "USD", "BTC", "ETH", "BUSD"}

// contractSuffix matches exchange-specific contract markers appended to
// perpetual symbols, e.g. "BTC-USD-SWAP" or "ETHUSDT_PERP".
var contractSuffix = regexp.MustCompile(`[-_]?(SWAP|PERP|SPOT|USD-SWAP)$`)

// delimiters matches the separator characters exchanges use inside symbols.
var delimiters = strings.NewReplacer("-", "", "_", "", "/", "")

// Normalize derives the canonical spelling of an exchange symbol. It strips
// contract suffixes and delimiters and uppercases the remainder.
// Normalize(Normalize(s)) == Normalize(s) for all s.
func Normalize(symbol string) string {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	normalized = contractSuffix.ReplaceAllString(normalized, "")
	return delimiters.Replace(normalized)
}

// SplitAssets extracts base and quote assets from an exchange symbol. The
// prioritized quote list is tried first; failing that, the last four
// characters are taken as the quote. Symbols shorter than five characters
// after cleaning are not split and both returns are empty.
func SplitAssets(symbol string) (base, quote string) {
	clean := Normalize(symbol)
	if len(clean) < 5 {
		return "", ""
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(clean, q) && len(clean) > len(q) {
			return clean[:len(clean)-len(q)], q
		}
	}
	return clean[:len(clean)-4], clean[len(clean)-4:]
}

// NormalizeInfo canonicalizes one exchange listing. Assets reported by the
// exchange win over derived ones; derivation only fills gaps.
func NormalizeInfo(info models.SymbolInfo, marketType models.MarketType) models.SymbolEntity {
	base, quote := SplitAssets(info.Symbol)
	if info.BaseAsset != "" {
		base = strings.ToUpper(info.BaseAsset)
	}
	if info.QuoteAsset != "" {
		quote = strings.ToUpper(info.QuoteAsset)
	}
	return models.SymbolEntity{
		Symbol:       Normalize(info.Symbol),
		MarketType:   marketType,
		BaseAsset:    base,
		QuoteAsset:   quote,
		FetchEnabled: true,
	}
}

// Merge combines per-exchange symbol lists for one market type into a single
// canonical set. Listings that normalize to the same symbol union their
// exchange masks; base/quote come from the first exchange that supplied
// non-empty values and are never overwritten by empty ones. Iteration order
// follows the given slice, so callers pass exchanges in registry order for
// deterministic first-write-wins behavior.
func Merge(marketType models.MarketType, listings []ExchangeListing, now time.Time) []models.SymbolEntity {
	merged := make(map[string]*models.SymbolEntity)
	var order []string

	for _, listing := range listings {
		for _, info := range listing.Symbols {
			entity := NormalizeInfo(info, marketType)
			if entity.Symbol == "" {
				continue
			}
			existing, ok := merged[entity.Symbol]
			if !ok {
				entity.Exchanges = listing.Exchange.Mask()
				entity.UpdatedAt = now
				merged[entity.Symbol] = &entity
				order = append(order, entity.Symbol)
				continue
			}
			existing.Exchanges = existing.Exchanges.Add(listing.Exchange)
			if existing.BaseAsset == "" && entity.BaseAsset != "" {
				existing.BaseAsset = entity.BaseAsset
			}
			if existing.QuoteAsset == "" && entity.QuoteAsset != "" {
				existing.QuoteAsset = entity.QuoteAsset
			}
		}
	}

	out := make([]models.SymbolEntity, 0, len(order))
	for _, symbol := range order {
		out = append(out, *merged[symbol])
	}
	return out
}

// ExchangeListing is one exchange's raw symbol list for a market type.
type ExchangeListing struct {
	// Exchange is the reporting exchange.
	Exchange models.ExchangeID
	// Symbols are the native listings.
	Symbols []models.SymbolInfo
}
