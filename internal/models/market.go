package models

import (
	"fmt"
	"strings"
)

// MarketType identifies the market segment a symbol trades on.
type MarketType string

const (
	// MarketSpot is the spot market.
	MarketSpot MarketType = "spot"
	// MarketPerpetual is the perpetual futures (swap) market.
	MarketPerpetual MarketType = "perpetual"
)

// MarketTypes lists all supported market types in a stable order.
func MarketTypes() []MarketType {
	return []MarketType{MarketSpot, MarketPerpetual}
}

// ParseMarketType converts a string into a MarketType.
//
// Parameters:
//
//	s: The market type string ("spot" or "perpetual").
//
// Returns:
//
//	MarketType: The parsed market type.
//	error: Error if the string is not a known market type.
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(strings.ToLower(strings.TrimSpace(s))) {
	case MarketSpot:
		return MarketSpot, nil
	case MarketPerpetual:
		return MarketPerpetual, nil
	default:
		return "", fmt.Errorf("unknown market type %q", s)
	}
}

// String returns the market type as a string.
func (m MarketType) String() string {
	return string(m)
}

// Valid reports whether the market type is one of the supported values.
func (m MarketType) Valid() bool {
	return m == MarketSpot || m == MarketPerpetual
}
