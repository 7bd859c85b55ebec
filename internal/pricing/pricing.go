// Package pricing computes service request prices.
package pricing

import (
	"math"
	"strings"
)

const (
	// PerKmRate is charged per kilometre of travel distance.
	PerKmRate = 10.0
	// EmergencySurcharge is added for emergency urgency.
	EmergencySurcharge = 50.0
)

// Quote is the itemized form of a price.
type Quote struct {
	BasePrice   float64 `json:"basePrice"`
	DistanceFee float64 `json:"distanceFee"`
	UrgencyFee  float64 `json:"urgencyFee"`
	Total       float64 `json:"total"`
}

// Compute returns base + distance*PerKmRate (+ EmergencySurcharge for
// emergency urgency), rounded half-up to cents. Inputs are not validated.
func Compute(basePrice, distance float64, urgency string) float64 {
	return Itemize(basePrice, distance, urgency).Total
}

func Itemize(basePrice, distance float64, urgency string) Quote {
	q := Quote{
		BasePrice:   basePrice,
		DistanceFee: distance * PerKmRate,
	}
	if IsEmergency(urgency) {
		q.UrgencyFee = EmergencySurcharge
	}
	q.Total = RoundCents(q.BasePrice + q.DistanceFee + q.UrgencyFee)
	return q
}

func IsEmergency(urgency string) bool {
	return strings.EqualFold(strings.TrimSpace(urgency), "emergency")
}

// RoundCents rounds half toward positive infinity at two decimals.
func RoundCents(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}
