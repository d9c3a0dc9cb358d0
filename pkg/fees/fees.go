// Package fees computes Indian options transaction costs: brokerage, STT,
// exchange transaction charges, SEBI fees, stamp duty, and GST.
package fees

import "math"

// Schedule is a broker fee configuration. All percent fields are expressed
// in percent (0.0625 means 0.0625%).
type Schedule struct {
	BrokerName string `yaml:"broker_name" json:"broker_name"`

	BrokeragePerOrder float64 `yaml:"brokerage_per_order" json:"brokerage_per_order"`
	BrokeragePercent  float64 `yaml:"brokerage_percent" json:"brokerage_percent"`
	MaxBrokerage      float64 `yaml:"max_brokerage" json:"max_brokerage"`

	// STT applies to the option premium; zero on the buy side for options.
	STTBuyPercent  float64 `yaml:"stt_buy_percent" json:"stt_buy_percent"`
	STTSellPercent float64 `yaml:"stt_sell_percent" json:"stt_sell_percent"`

	ExchangeTxnPercent float64 `yaml:"exchange_txn_percent" json:"exchange_txn_percent"`
	SEBIPercent        float64 `yaml:"sebi_percent" json:"sebi_percent"`

	// Stamp duty is charged on the buy side only.
	StampDutyPercent float64 `yaml:"stamp_duty_percent" json:"stamp_duty_percent"`

	// GST applies to brokerage + exchange charges.
	GSTPercent float64 `yaml:"gst_percent" json:"gst_percent"`
}

var AliceBlue = Schedule{
	BrokerName:         "Alice Blue",
	BrokeragePerOrder:  15.0,
	MaxBrokerage:       15.0,
	STTSellPercent:     0.0625,
	ExchangeTxnPercent: 0.053,
	SEBIPercent:        0.0001,
	StampDutyPercent:   0.003,
	GSTPercent:         18.0,
}

var Zerodha = Schedule{
	BrokerName:         "Zerodha",
	BrokeragePerOrder:  20.0,
	MaxBrokerage:       20.0,
	STTSellPercent:     0.0625,
	ExchangeTxnPercent: 0.053,
	SEBIPercent:        0.0001,
	StampDutyPercent:   0.003,
	GSTPercent:         18.0,
}

var FlatFee = Schedule{
	BrokerName:         "Flat Fee",
	BrokeragePerOrder:  20.0,
	MaxBrokerage:       20.0,
	STTSellPercent:     0.05,
	ExchangeTxnPercent: 0.05,
	SEBIPercent:        0.0001,
	StampDutyPercent:   0.003,
	GSTPercent:         18.0,
}

// ByName returns the named broker schedule, defaulting to Alice Blue.
func ByName(name string) Schedule {
	switch name {
	case "ZERODHA":
		return Zerodha
	case "FLAT_FEE":
		return FlatFee
	default:
		return AliceBlue
	}
}

// Breakdown itemizes the costs of one executed order leg.
type Breakdown struct {
	Brokerage       float64
	STT             float64
	ExchangeCharges float64
	SEBICharges     float64
	StampDuty       float64
	GST             float64
}

// Total is the sum of all components, rounded to the paise.
func (b Breakdown) Total() float64 {
	return round2(b.Brokerage + b.STT + b.ExchangeCharges + b.SEBICharges + b.StampDuty + b.GST)
}

// Calculate is a pure function of (fill price, quantity, buy side, schedule).
// It is invoked identically at entry and exit.
func Calculate(price float64, quantity int, buy bool, s Schedule) Breakdown {
	turnover := price * float64(quantity)

	var b Breakdown

	if s.BrokeragePercent > 0 {
		b.Brokerage = math.Min(turnover*s.BrokeragePercent/100, s.MaxBrokerage)
	} else {
		b.Brokerage = s.BrokeragePerOrder
	}

	if buy {
		b.STT = turnover * s.STTBuyPercent / 100
		b.StampDuty = turnover * s.StampDutyPercent / 100
	} else {
		b.STT = turnover * s.STTSellPercent / 100
	}

	b.ExchangeCharges = turnover * s.ExchangeTxnPercent / 100
	b.SEBICharges = turnover * s.SEBIPercent / 100
	b.GST = (b.Brokerage + b.ExchangeCharges) * s.GSTPercent / 100

	b.Brokerage = round2(b.Brokerage)
	b.STT = round2(b.STT)
	b.ExchangeCharges = round2(b.ExchangeCharges)
	b.SEBICharges = round2(b.SEBICharges)
	b.StampDuty = round2(b.StampDuty)
	b.GST = round2(b.GST)

	return b
}

// Total is a convenience wrapper when the breakdown itself is not needed.
func Total(price float64, quantity int, buy bool, s Schedule) float64 {
	return Calculate(price, quantity, buy, s).Total()
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
