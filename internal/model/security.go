package model

// Security identifies a monitored putup: the ticker, the market it trades
// on, and the broker's class/type codes.
type Security struct {
	Ticker string `json:"ticker" yaml:"ticker"`
	Market string `json:"market" yaml:"market"`
	Class  string `json:"class" yaml:"class"` // e.g. "STK", "IND"
	Type   string `json:"type" yaml:"type"`   // e.g. "EQ", "ETF"
}

// Key returns a unique key for this security: "market:ticker".
func (s Security) Key() string {
	return s.Market + ":" + s.Ticker
}

func (s Security) String() string {
	return s.Key()
}
