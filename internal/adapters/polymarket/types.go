package polymarket

import "encoding/json"

// Raw Gamma API DTOs, used only inside this package. Conversion to domain
// entities lives in mapping.go.

// gammaMarketsResponse is the response of GET /markets.
type gammaMarketsResponse []gammaMarket

// gammaMarket is one market as Gamma returns it. Numeric fields arrive as JSON
// strings, hence json.Number; outcomes and outcomePrices are JSON arrays
// encoded as strings inside the JSON document.
type gammaMarket struct {
	ConditionID   string      `json:"conditionId"`
	Question      string      `json:"question"`
	Slug          string      `json:"slug"`
	Outcomes      string      `json:"outcomes"`      // e.g. `["Yes","No"]`
	OutcomePrices string      `json:"outcomePrices"` // e.g. `["0.62","0.38"]`
	EndDateISO    string      `json:"endDateIso"`
	Volume24h     json.Number `json:"volume24hr"`
	Active        bool        `json:"active"`
	Closed        bool        `json:"closed"`
	Archived      bool        `json:"archived"`
}
