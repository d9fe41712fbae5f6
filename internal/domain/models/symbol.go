package models

import "strings"

// Market names as published by the upstream feed.
const (
	MarketIndiaIndexes         = "india_stocks_indexes"
	MarketUSIndexes            = "us_stocks_indexes"
	MarketInternationalIndexes = "international_stocks_indexes"
	MarketCrypto               = "crypto"
	MarketPreciousMetals       = "precious_metals"
)

// Symbol groups accepted by the operational surface.
const (
	GroupAll           = "all"
	GroupIndia         = "india"
	GroupUS            = "us"
	GroupInternational = "international"
	GroupIndexes       = "indexes"
	GroupCrypto        = "crypto"
	GroupMetals        = "metals"
)

var groupMarkets = map[string][]string{
	GroupIndia:         {MarketIndiaIndexes},
	GroupUS:            {MarketUSIndexes},
	GroupInternational: {MarketInternationalIndexes},
	GroupIndexes:       {MarketIndiaIndexes, MarketUSIndexes, MarketInternationalIndexes},
	GroupCrypto:        {MarketCrypto},
	GroupMetals:        {MarketPreciousMetals},
	GroupAll: {
		MarketIndiaIndexes, MarketUSIndexes, MarketInternationalIndexes,
		MarketCrypto, MarketPreciousMetals,
	},
}

// GroupMarkets returns the markets covered by a named group.
func GroupMarkets(group string) ([]string, bool) {
	m, ok := groupMarkets[strings.ToLower(strings.TrimSpace(group))]
	return m, ok
}

// KnownMarket reports whether name is one of the catalogue markets.
func KnownMarket(name string) bool {
	for _, m := range groupMarkets[GroupAll] {
		if m == name {
			return true
		}
	}
	return false
}

type Region struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

type Country struct {
	Code       string `json:"code" yaml:"code"`
	Name       string `json:"name" yaml:"name"`
	RegionCode string `json:"region_code" yaml:"region"`
}

type Market struct {
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Symbol is immutable reference data; (Market, Name) is unique.
type Symbol struct {
	ID          int64  `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Market      string `json:"market" yaml:"market"`
	CountryCode string `json:"country_code,omitempty" yaml:"country"`
}

// Reference is the seed document for regions, countries, markets and symbols.
type Reference struct {
	Regions   []Region  `yaml:"regions"`
	Countries []Country `yaml:"countries"`
	Markets   []Market  `yaml:"markets"`
	Symbols   []Symbol  `yaml:"symbols"`
}
