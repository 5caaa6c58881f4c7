package view

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// EventMessage is the inbound JSON shape of a ledger event, shared by the
// HTTP API and the event stream. Amounts are scaled integer strings.
type EventMessage struct {
	Kind             string `json:"kind"`
	PositionKey      string `json:"positionKey"`
	Account          string `json:"account"`
	SizeInUsd        string `json:"sizeInUsd"`
	SizeInTokens     string `json:"sizeInTokens"`
	CollateralAmount string `json:"collateralAmount"`
	IncreasedAtTime  uint64 `json:"increasedAtTime"`
	DecreasedAtTime  uint64 `json:"decreasedAtTime"`
}

// ToDomain validates the message.
func (m EventMessage) ToDomain() (domain.PositionEvent, error) {
	kind := domain.PositionEventKind(m.Kind)
	if kind != domain.PositionEventIncrease && kind != domain.PositionEventDecrease {
		return domain.PositionEvent{}, fmt.Errorf("%w: kind %q", domain.ErrInvalidEvent, m.Kind)
	}
	if m.PositionKey == "" {
		return domain.PositionEvent{}, domain.ErrInvalidKey
	}
	account, err := domain.ParseAddress(m.Account)
	if err != nil {
		return domain.PositionEvent{}, err
	}

	ev := domain.PositionEvent{
		Kind:            kind,
		PositionKey:     m.PositionKey,
		Account:         account,
		IncreasedAtTime: m.IncreasedAtTime,
		DecreasedAtTime: m.DecreasedAtTime,
	}
	for _, f := range []struct {
		dst  **big.Int
		name string
		raw  string
	}{
		{&ev.SizeInUsd, "sizeInUsd", m.SizeInUsd},
		{&ev.SizeInTokens, "sizeInTokens", m.SizeInTokens},
		{&ev.CollateralAmount, "collateralAmount", m.CollateralAmount},
	} {
		v, ok := ParseInt(f.raw)
		if !ok || v == nil || v.Sign() < 0 {
			return domain.PositionEvent{}, fmt.Errorf("%w: %s %q", domain.ErrInvalidAmount, f.name, f.raw)
		}
		*f.dst = v
	}
	return ev, nil
}

// EventFromDomain renders a stored ledger event in the inbound shape.
func EventFromDomain(ev domain.PositionEvent) EventMessage {
	return EventMessage{
		Kind:             string(ev.Kind),
		PositionKey:      ev.PositionKey,
		Account:          ev.Account.Hex(),
		SizeInUsd:        intString(ev.SizeInUsd),
		SizeInTokens:     intString(ev.SizeInTokens),
		CollateralAmount: intString(ev.CollateralAmount),
		IncreasedAtTime:  ev.IncreasedAtTime,
		DecreasedAtTime:  ev.DecreasedAtTime,
	}
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// PendingMessage is the inbound JSON shape of a pending update hint. Deltas
// are optional scaled integer strings. UpdatedAt defaults to receipt time.
type PendingMessage struct {
	Account               string     `json:"account"`
	PositionKey           string     `json:"positionKey"`
	IsIncrease            bool       `json:"isIncrease"`
	SizeDeltaUsd          string     `json:"sizeDeltaUsd,omitempty"`
	SizeDeltaInTokens     string     `json:"sizeDeltaInTokens,omitempty"`
	CollateralDeltaAmount string     `json:"collateralDeltaAmount,omitempty"`
	UpdatedAtBlock        uint64     `json:"updatedAtBlock"`
	UpdatedAt             *time.Time `json:"updatedAt,omitempty"`
}

// ToDomain validates the hint fields. Account is parsed by the caller.
func (m PendingMessage) ToDomain() (domain.PendingUpdate, error) {
	if m.PositionKey == "" {
		return domain.PendingUpdate{}, domain.ErrInvalidKey
	}

	u := domain.PendingUpdate{
		PositionKey:    m.PositionKey,
		IsIncrease:     m.IsIncrease,
		UpdatedAtBlock: m.UpdatedAtBlock,
	}
	if m.UpdatedAt != nil {
		u.UpdatedAt = m.UpdatedAt.UTC()
	}
	for _, f := range []struct {
		dst  **big.Int
		name string
		raw  string
	}{
		{&u.SizeDeltaUsd, "sizeDeltaUsd", m.SizeDeltaUsd},
		{&u.SizeDeltaInTokens, "sizeDeltaInTokens", m.SizeDeltaInTokens},
		{&u.CollateralDeltaAmount, "collateralDeltaAmount", m.CollateralDeltaAmount},
	} {
		v, ok := ParseInt(f.raw)
		if !ok {
			return domain.PendingUpdate{}, fmt.Errorf("%w: %s %q", domain.ErrInvalidAmount, f.name, f.raw)
		}
		*f.dst = v
	}
	return u, nil
}

// PositionMessage is the inbound JSON shape of a confirmed position. A zero
// sizeInUsd closes the position.
type PositionMessage struct {
	Account                   string `json:"account"`
	Market                    string `json:"market"`
	CollateralToken           string `json:"collateralToken"`
	IsLong                    bool   `json:"isLong"`
	SizeInUsd                 string `json:"sizeInUsd"`
	SizeInTokens              string `json:"sizeInTokens"`
	CollateralAmount          string `json:"collateralAmount"`
	PendingBorrowingFeesUsd   string `json:"pendingBorrowingFeesUsd,omitempty"`
	FundingFeeAmount          string `json:"fundingFeeAmount,omitempty"`
	ClaimableLongTokenAmount  string `json:"claimableLongTokenAmount,omitempty"`
	ClaimableShortTokenAmount string `json:"claimableShortTokenAmount,omitempty"`
	IncreasedAtTime           uint64 `json:"increasedAtTime"`
	DecreasedAtTime           uint64 `json:"decreasedAtTime"`
}

// ToDomain validates the message and derives the position key.
func (m PositionMessage) ToDomain() (domain.Position, error) {
	var (
		p   domain.Position
		err error
	)
	if p.Account, err = domain.ParseAddress(m.Account); err != nil {
		return domain.Position{}, err
	}
	if p.MarketAddress, err = domain.ParseAddress(m.Market); err != nil {
		return domain.Position{}, err
	}
	if p.CollateralTokenAddress, err = domain.ParseAddress(m.CollateralToken); err != nil {
		return domain.Position{}, err
	}
	p.IsLong = m.IsLong
	p.IncreasedAtTime = m.IncreasedAtTime
	p.DecreasedAtTime = m.DecreasedAtTime
	p.Key = p.PositionKey().Hash()

	for _, f := range []struct {
		dst  **big.Int
		name string
		raw  string
	}{
		{&p.SizeInUsd, "sizeInUsd", m.SizeInUsd},
		{&p.SizeInTokens, "sizeInTokens", m.SizeInTokens},
		{&p.CollateralAmount, "collateralAmount", m.CollateralAmount},
		{&p.PendingBorrowingFeesUsd, "pendingBorrowingFeesUsd", m.PendingBorrowingFeesUsd},
		{&p.FundingFeeAmount, "fundingFeeAmount", m.FundingFeeAmount},
		{&p.ClaimableLongTokenAmount, "claimableLongTokenAmount", m.ClaimableLongTokenAmount},
		{&p.ClaimableShortTokenAmount, "claimableShortTokenAmount", m.ClaimableShortTokenAmount},
	} {
		v, ok := ParseInt(f.raw)
		if !ok || (v != nil && v.Sign() < 0) {
			return domain.Position{}, fmt.Errorf("%w: %s %q", domain.ErrInvalidAmount, f.name, f.raw)
		}
		if v == nil {
			v = new(big.Int)
		}
		*f.dst = v
	}
	return p, nil
}

// PriceMessage is one oracle price update, USD per whole token with 30
// decimals as integer strings.
type PriceMessage struct {
	Token    string     `json:"token"`
	MinPrice string     `json:"minPrice"`
	MaxPrice string     `json:"maxPrice"`
	At       *time.Time `json:"at,omitempty"`
}

// ToDomain validates the message.
func (m PriceMessage) ToDomain() (common.Address, domain.TokenPrices, error) {
	token, err := domain.ParseAddress(m.Token)
	if err != nil {
		return common.Address{}, domain.TokenPrices{}, err
	}
	minPrice, ok := ParseInt(m.MinPrice)
	if !ok || minPrice == nil {
		return common.Address{}, domain.TokenPrices{}, fmt.Errorf("%w: minPrice %q", domain.ErrInvalidAmount, m.MinPrice)
	}
	maxPrice, ok := ParseInt(m.MaxPrice)
	if !ok || maxPrice == nil {
		return common.Address{}, domain.TokenPrices{}, fmt.Errorf("%w: maxPrice %q", domain.ErrInvalidAmount, m.MaxPrice)
	}
	prices := domain.TokenPrices{MinPrice: minPrice, MaxPrice: maxPrice}
	if !prices.Loaded() || minPrice.Cmp(maxPrice) > 0 {
		return common.Address{}, domain.TokenPrices{}, fmt.Errorf("%w: prices %s/%s", domain.ErrInvalidAmount, m.MinPrice, m.MaxPrice)
	}
	return token, prices, nil
}
