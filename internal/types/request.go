package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type SubscribeRequest struct {
	Symbol   string   `json:"symbol"`
	Exchange Exchange `json:"exchange"`
}

func (r SubscribeRequest) VTSymbol() string { return VTSymbol(r.Symbol, r.Exchange) }

type OrderRequest struct {
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	Direction Direction       `json:"direction"`
	Type      OrderType       `json:"type"`
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	Offset    Offset          `json:"offset"`
	Reference string          `json:"reference,omitempty"`
}

func (r OrderRequest) VTSymbol() string { return VTSymbol(r.Symbol, r.Exchange) }

// CreateOrderData 生成 SUBMITTING 状态的订单快照，id 即本地 id。
func (r OrderRequest) CreateOrderData(localID, gateway string) OrderData {
	offset := r.Offset
	if offset == "" {
		offset = OffsetNone
	}
	return OrderData{
		GatewayName: gateway,
		Symbol:      r.Symbol,
		Exchange:    r.Exchange,
		OrderID:     localID,
		LocalID:     localID,
		Type:        r.Type,
		Direction:   r.Direction,
		Offset:      offset,
		Price:       r.Price,
		Volume:      r.Volume,
		Traded:      decimal.Zero,
		Status:      StatusSubmitting,
		Datetime:    time.Now(),
		Reference:   r.Reference,
	}
}

type CancelRequest struct {
	OrderID  string   `json:"orderid"`
	Symbol   string   `json:"symbol"`
	Exchange Exchange `json:"exchange"`
}

func (r CancelRequest) VTSymbol() string { return VTSymbol(r.Symbol, r.Exchange) }

type HistoryRequest struct {
	Symbol   string    `json:"symbol"`
	Exchange Exchange  `json:"exchange"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Interval Interval  `json:"interval"`
}

func (r HistoryRequest) VTSymbol() string { return VTSymbol(r.Symbol, r.Exchange) }
