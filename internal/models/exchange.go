package models

import "strings"

// ExchangeID is a single bit identifying one exchange. IDs combine into an
// ExchangeMask, so each exchange must occupy a distinct power of two.
type ExchangeID uint32

const (
	// ExchangeBinance is the Binance exchange bit.
	ExchangeBinance ExchangeID = 1
	// ExchangeOKX is the OKX exchange bit.
	ExchangeOKX ExchangeID = 2
	// ExchangeBybit is the Bybit exchange bit.
	ExchangeBybit ExchangeID = 4
)

// ExchangeMask is a bitset of exchanges that list a given symbol.
type ExchangeMask uint32

// ExchangeInfo describes one registered exchange.
type ExchangeInfo struct {
	// ID is the exchange's mask bit.
	ID ExchangeID
	// Name is the display name (e.g. "Binance").
	Name string
	// Slug is the lowercase identifier used in configuration and cache keys.
	Slug string
}

// exchangeRegistry is the ordered list of supported exchanges. The order
// fixes the bit-to-exchange mapping; append only.
var exchangeRegistry = []ExchangeInfo{
	{ID: ExchangeBinance, Name: "Binance", Slug: "binance"},
	{ID: ExchangeOKX, Name: "OKX", Slug: "okx"},
	{ID: ExchangeBybit, Name: "Bybit", Slug: "bybit"},
}

// ExchangeRegistry returns the ordered list of supported exchanges.
func ExchangeRegistry() []ExchangeInfo {
	out := make([]ExchangeInfo, len(exchangeRegistry))
	copy(out, exchangeRegistry)
	return out
}

// ExchangeBySlug looks up a registered exchange by its slug.
func ExchangeBySlug(slug string) (ExchangeInfo, bool) {
	slug = strings.ToLower(slug)
	for _, info := range exchangeRegistry {
		if info.Slug == slug {
			return info, true
		}
	}
	return ExchangeInfo{}, false
}

// Name returns the display name of the exchange, or "" if unregistered.
func (id ExchangeID) Name() string {
	for _, info := range exchangeRegistry {
		if info.ID == id {
			return info.Name
		}
	}
	return ""
}

// Slug returns the configuration slug of the exchange, or "" if unregistered.
func (id ExchangeID) Slug() string {
	for _, info := range exchangeRegistry {
		if info.ID == id {
			return info.Slug
		}
	}
	return ""
}

// Mask returns the single-bit mask for this exchange.
func (id ExchangeID) Mask() ExchangeMask {
	return ExchangeMask(id)
}

// Has reports whether the mask contains the given exchange.
func (m ExchangeMask) Has(id ExchangeID) bool {
	return m&ExchangeMask(id) != 0
}

// Add returns the mask with the given exchange's bit set.
func (m ExchangeMask) Add(id ExchangeID) ExchangeMask {
	return m | ExchangeMask(id)
}

// Exchanges expands the mask into the registered exchanges it contains,
// in registry order.
func (m ExchangeMask) Exchanges() []ExchangeInfo {
	var out []ExchangeInfo
	for _, info := range exchangeRegistry {
		if m.Has(info.ID) {
			out = append(out, info)
		}
	}
	return out
}

// Names returns the display names of the exchanges in the mask.
func (m ExchangeMask) Names() []string {
	infos := m.Exchanges()
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}
