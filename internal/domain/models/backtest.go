package models

// YearRow is one year of a per-date averaged report; Year "all" is the total.
type YearRow struct {
	Year   string    `json:"year"`
	Values []float64 `json:"values"`
	Dates  int       `json:"dates"`
}

// TopBottomReport holds mean gain and precision per K.
type TopBottomReport struct {
	Ks        []int     `json:"ks"`
	Gain      []YearRow `json:"gain"`
	Precision []YearRow `json:"precision"`
}

// BucketReport holds mean gain per bucket in ranking order; B1 holds the
// highest scores. Each Values slice ends with the row average.
type BucketReport struct {
	Buckets int       `json:"buckets"`
	Rows    []YearRow `json:"rows"`
}

// TradeConfig drives one transaction simulation.
type TradeConfig struct {
	MaxLook int `json:"max_look" yaml:"max_look"`
	MaxPick int `json:"max_pick" yaml:"max_pick"`
	MaxHold int `json:"max_hold" yaml:"max_hold"`
}

// Position is one open or closed simulated holding.
type Position struct {
	Security string `json:"security"`
	BuyDate  string `json:"buy_date"`
	SaleDate string `json:"sale_date"`
}

// TradeRow is the per-date output of a transaction simulation.
type TradeRow struct {
	Date       string   `json:"date"`
	Buys       int      `json:"buys"`
	TotalHold  int      `json:"total_hold"`
	MaxHold    int      `json:"max_hold"`
	MaxHoldSec string   `json:"max_hold_security"`
	Gain       float64  `json:"gain"`
	Market     *float64 `json:"market,omitempty"`
}
