package domain

import "strings"

// Exchange identifies the venue segment an instrument trades on.
type Exchange string

const (
	ExchangeNSE Exchange = "NSE" // cash equities
	ExchangeBSE Exchange = "BSE"
	ExchangeNFO Exchange = "NFO" // equity derivatives
	ExchangeBFO Exchange = "BFO"
	ExchangeCDS Exchange = "CDS" // currency derivatives
	ExchangeBCD Exchange = "BCD"
	ExchangeMCX Exchange = "MCX" // commodities
)

// ParseExchange normalises a user-supplied exchange code.
func ParseExchange(s string) Exchange {
	return Exchange(strings.ToUpper(strings.TrimSpace(s)))
}

// UnderlyingExchange returns the exchange on which the underlying of a
// derivative listed on ex is quoted. Equity derivatives track the cash
// segment; currency and commodity contracts track futures on the same venue.
func UnderlyingExchange(ex Exchange) Exchange {
	switch ex {
	case ExchangeNFO:
		return ExchangeNSE
	case ExchangeBFO:
		return ExchangeBSE
	default:
		return ex
	}
}

// Instrument is a (exchange, code) pair as used by the price cache.
type Instrument struct {
	Exchange Exchange `json:"exchange"`
	Code     string   `json:"code"`
}

// Key returns the "EXCHANGE:CODE" form used in cache keys.
func (i Instrument) Key() string {
	return string(i.Exchange) + ":" + i.Code
}

// IsZero reports whether the instrument has no code.
func (i Instrument) IsZero() bool {
	return i.Code == ""
}
