package journal

import (
	"encoding/json"

	"gorm.io/datatypes"

	"tradehub/internal/types"
)

// OrderRecord 对应 orders 表，每个 vt_orderid 只保留最新快照。
type OrderRecord struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	VTOrderID string         `gorm:"column:vt_orderid;uniqueIndex"`
	LocalID   string         `gorm:"column:local_id"`
	Gateway   string         `gorm:"column:gateway;index"`
	VTSymbol  string         `gorm:"column:vt_symbol;index"`
	Direction string         `gorm:"column:direction"`
	OrderType string         `gorm:"column:order_type"`
	Price     string         `gorm:"column:price"`
	Volume    string         `gorm:"column:volume"`
	Traded    string         `gorm:"column:traded"`
	Status    string         `gorm:"column:status;index"`
	Raw       datatypes.JSON `gorm:"column:raw;type:TEXT"`
	UpdatedAt int64          `gorm:"column:updated_at"`
}

func (OrderRecord) TableName() string { return "orders" }

type TradeRecord struct {
	ID        int64  `gorm:"column:id;primaryKey"`
	VTTradeID string `gorm:"column:vt_tradeid;uniqueIndex"`
	VTOrderID string `gorm:"column:vt_orderid;index"`
	Gateway   string `gorm:"column:gateway"`
	VTSymbol  string `gorm:"column:vt_symbol;index"`
	Direction string `gorm:"column:direction"`
	Price     string `gorm:"column:price"`
	Volume    string `gorm:"column:volume"`
	TradedAt  int64  `gorm:"column:traded_at"`
}

func (TradeRecord) TableName() string { return "trades" }

type LogRecord struct {
	ID      int64  `gorm:"column:id;primaryKey"`
	Gateway string `gorm:"column:gateway"`
	Level   string `gorm:"column:level"`
	Msg     string `gorm:"column:msg"`
	At      int64  `gorm:"column:at;index"`
}

func (LogRecord) TableName() string { return "logs" }

func orderRecord(o types.OrderData) OrderRecord {
	raw, _ := json.Marshal(o)
	return OrderRecord{
		VTOrderID: o.VTOrderID(),
		LocalID:   o.LocalID,
		Gateway:   o.GatewayName,
		VTSymbol:  o.VTSymbol(),
		Direction: string(o.Direction),
		OrderType: string(o.Type),
		Price:     o.Price.String(),
		Volume:    o.Volume.String(),
		Traded:    o.Traded.String(),
		Status:    string(o.Status),
		Raw:       datatypes.JSON(raw),
		UpdatedAt: o.Datetime.UnixMilli(),
	}
}

func tradeRecord(t types.TradeData) TradeRecord {
	return TradeRecord{
		VTTradeID: t.VTTradeID(),
		VTOrderID: t.VTOrderID(),
		Gateway:   t.GatewayName,
		VTSymbol:  t.VTSymbol(),
		Direction: string(t.Direction),
		Price:     t.Price.String(),
		Volume:    t.Volume.String(),
		TradedAt:  t.Datetime.UnixMilli(),
	}
}

func logRecord(l types.LogData) LogRecord {
	return LogRecord{Gateway: l.GatewayName, Level: l.Level, Msg: l.Msg, At: l.Time.UnixMilli()}
}

// Order 解出原始快照。
func (r OrderRecord) Order() (types.OrderData, error) {
	var o types.OrderData
	err := json.Unmarshal(r.Raw, &o)
	return o, err
}
