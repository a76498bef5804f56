package models

import "time"

// Фиксированный сплит TONU: $200 клиенту, $50 платформе (25%), $150 перевозчику (75%).
// Значения в центах; не настраиваются по заявке.
const (
	TonuTotalChargeCents   int64 = 20000
	TonuPlatformFeePercent int64 = 25
	TonuMinReasonLength          = 10
)

type TonuStatus string

const (
	TonuStatusFiled    TonuStatus = "FILED"
	TonuStatusApproved TonuStatus = "APPROVED"
	TonuStatusDisputed TonuStatus = "DISPUTED"
	TonuStatusPaid     TonuStatus = "PAID"
)

type TonuClaim struct {
	ID                 string     `json:"id"`
	LoadID             string     `json:"loadId"`
	DriverID           string     `json:"driverId,omitempty"`
	Reason             string     `json:"reason"`
	ArrivalTime        time.Time  `json:"arrivalTime"`
	WaitMinutes        int        `json:"waitMinutes"`
	FiledAt            time.Time  `json:"filedAt"`
	Status             TonuStatus `json:"status"`
	TotalChargeCents   int64      `json:"totalChargeCents"`
	PlatformFeeCents   int64      `json:"platformFeeCents"`
	CarrierPayoutCents int64      `json:"carrierPayoutCents"`
}

func (c *TonuClaim) Clone() *TonuClaim {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

type TonuSplit struct {
	TotalChargeCents   int64
	PlatformFeeCents   int64
	CarrierPayoutCents int64
}

// ComputeTonuSplit always yields 200.00 / 50.00 / 150.00; payout is the remainder so the parts sum exactly.
func ComputeTonuSplit() TonuSplit {
	fee := TonuTotalChargeCents * TonuPlatformFeePercent / 100
	return TonuSplit{
		TotalChargeCents:   TonuTotalChargeCents,
		PlatformFeeCents:   fee,
		CarrierPayoutCents: TonuTotalChargeCents - fee,
	}
}
