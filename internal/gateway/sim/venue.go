// Package sim 是进程内的模拟场所：可控的确认/成交、故障注入和断线模拟。
package sim

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradehub/internal/gateway"
	"tradehub/internal/types"
)

const schema = `{
  "type": "object",
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "balance": {"type": "number", "minimum": 0},
    "auto_fill": {"type": "boolean"}
  },
  "additionalProperties": true
}`

// Op 标识可注入故障的场所调用。
type Op string

const (
	OpDial           Op = "dial"
	OpFetchContracts Op = "fetch_contracts"
	OpFetchAccounts  Op = "fetch_accounts"
	OpFetchPositions Op = "fetch_positions"
	OpFetchOrders    Op = "fetch_orders"
	OpFetchBars      Op = "fetch_bars"
	OpPlace          Op = "place"
	OpCancel         Op = "cancel"
	OpSubscribe      Op = "subscribe"
)

// Venue 在内存中模拟撮合。所有方法并发安全。
type Venue struct {
	name     string
	listener gateway.VenueListener

	mu        sync.Mutex
	connected bool
	accountID string
	balance   decimal.Decimal
	autoFill  bool
	contracts []types.ContractData
	orders    map[string]types.OrderData
	positions map[string]types.PositionData
	subs      map[string]types.SubscribeRequest
	failures  map[Op][]error
	calls     map[Op]int
	seq       int
	tradeSeq  int
}

// New 返回带默认合约的模拟场所。
func New(name string, listener gateway.VenueListener) *Venue {
	return &Venue{
		name:      name,
		listener:  listener,
		accountID: "SIM",
		balance:   decimal.NewFromInt(1_000_000),
		contracts: []types.ContractData{
			{Symbol: "BTCUSDT", Exchange: types.ExchangeBinance, Name: "BTCUSDT", Product: types.ProductSwap,
				Size: decimal.NewFromInt(1), PriceTick: decimal.RequireFromString("0.1"), MinVolume: decimal.RequireFromString("0.001")},
			{Symbol: "ETHUSDT", Exchange: types.ExchangeBinance, Name: "ETHUSDT", Product: types.ProductSwap,
				Size: decimal.NewFromInt(1), PriceTick: decimal.RequireFromString("0.01"), MinVolume: decimal.RequireFromString("0.001")},
			{Symbol: "AAPL", Exchange: types.ExchangeNasdaq, Name: "Apple Inc.", Product: types.ProductEquity,
				Size: decimal.NewFromInt(1), PriceTick: decimal.RequireFromString("0.01"), MinVolume: decimal.NewFromInt(1)},
		},
		orders:    make(map[string]types.OrderData),
		positions: make(map[string]types.PositionData),
		subs:      make(map[string]types.SubscribeRequest),
		failures:  make(map[Op][]error),
		calls:     make(map[Op]int),
	}
}

// Factory 适配 gateway.VenueFactory。
func Factory(name string, listener gateway.VenueListener) gateway.Venue {
	return New(name, listener)
}

func (v *Venue) Exchanges() []types.Exchange {
	return []types.Exchange{types.ExchangeBinance, types.ExchangeNasdaq}
}

func (v *Venue) SettingsSchema() string { return schema }

// FailNext 让接下来对 op 的调用依次返回 errs。
func (v *Venue) FailNext(op Op, errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[op] = append(v.failures[op], errs...)
}

// Calls 返回 op 被调用的次数（含失败）。
func (v *Venue) Calls(op Op) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// SubscribeCalls 返回某个 vt_symbol 的订阅调用次数。
func (v *Venue) SubscribeCalls(vtSymbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[Op(string(OpSubscribe)+":"+vtSymbol)]
}

func (v *Venue) Connected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// enter 记录调用并弹出注入的故障；需持有锁。
func (v *Venue) enter(op Op) error {
	v.calls[op]++
	if errs := v.failures[op]; len(errs) > 0 {
		v.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (v *Venue) Dial(ctx context.Context, settings gateway.Settings) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpDial); err != nil {
		return err
	}
	if id := settings.String("account_id"); id != "" {
		v.accountID = id
	}
	if raw := settings.String("balance"); raw != "" {
		if bal, err := decimal.NewFromString(raw); err == nil {
			v.balance = bal
		}
	}
	v.autoFill = settings.Bool("auto_fill")
	v.connected = true
	return nil
}

func (v *Venue) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	return nil
}

// Drop 模拟连接意外中断。
func (v *Venue) Drop(cause error) {
	v.mu.Lock()
	v.connected = false
	v.mu.Unlock()
	if cause == nil {
		cause = gateway.NewVenueError(gateway.CategoryNetwork, "connection reset by peer", nil)
	}
	v.listener.OnDisconnect(cause)
}

func (v *Venue) checkConn(op Op) error {
	if err := v.enter(op); err != nil {
		return err
	}
	if !v.connected {
		return gateway.NewVenueError(gateway.CategoryNetwork, "not connected", nil)
	}
	return nil
}

func (v *Venue) FetchContracts(ctx context.Context) ([]types.ContractData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkConn(OpFetchContracts); err != nil {
		return nil, err
	}
	return append([]types.ContractData(nil), v.contracts...), nil
}

func (v *Venue) FetchAccounts(ctx context.Context) ([]types.AccountData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkConn(OpFetchAccounts); err != nil {
		return nil, err
	}
	return []types.AccountData{v.account()}, nil
}

func (v *Venue) account() types.AccountData {
	frozen := decimal.Zero
	for _, o := range v.orders {
		if o.IsActive() {
			frozen = frozen.Add(o.Price.Mul(o.Volume.Sub(o.Traded)))
		}
	}
	return types.AccountData{AccountID: v.accountID, Balance: v.balance, Frozen: frozen}
}

func (v *Venue) FetchPositions(ctx context.Context) ([]types.PositionData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkConn(OpFetchPositions); err != nil {
		return nil, err
	}
	out := make([]types.PositionData, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VTSymbol() < out[j].VTSymbol() })
	return out, nil
}

func (v *Venue) FetchOpenOrders(ctx context.Context) ([]types.OrderData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkConn(OpFetchOrders); err != nil {
		return nil, err
	}
	out := make([]types.OrderData, 0)
	for _, o := range v.orders {
		if o.IsActive() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// FetchBars 生成确定性的合成 K 线。
func (v *Venue) FetchBars(ctx context.Context, req types.HistoryRequest) ([]types.BarData, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkConn(OpFetchBars); err != nil {
		return nil, err
	}
	step := intervalDuration(req.Interval)
	end := req.End
	if end.IsZero() {
		end = req.Start.Add(10 * step)
	}
	var bars []types.BarData
	price := decimal.NewFromInt(100)
	for ts := req.Start; ts.Before(end); ts = ts.Add(step) {
		bars = append(bars, types.BarData{
			Symbol: req.Symbol, Exchange: req.Exchange, Interval: req.Interval, Datetime: ts,
			Open: price, High: price.Add(decimal.NewFromInt(1)), Low: price.Sub(decimal.NewFromInt(1)),
			Close: price, Volume: decimal.NewFromInt(10),
		})
	}
	return bars, nil
}

func intervalDuration(iv types.Interval) time.Duration {
	switch iv {
	case types.IntervalHour:
		return time.Hour
	case types.IntervalDaily:
		return 24 * time.Hour
	case types.IntervalWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Minute
	}
}

func (v *Venue) PlaceOrder(ctx context.Context, localID string, req types.OrderRequest) (string, error) {
	v.mu.Lock()
	if err := v.checkConn(OpPlace); err != nil {
		v.mu.Unlock()
		return "", err
	}
	v.seq++
	venueID := strconv.Itoa(v.seq)
	order := req.CreateOrderData(venueID, v.name)
	order.LocalID = localID
	order.Status = types.StatusNotTraded
	v.orders[venueID] = order
	autoFill := v.autoFill
	v.mu.Unlock()

	if autoFill {
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = v.Fill(venueID, order.Volume, order.Price)
		}()
	}
	return venueID, nil
}

func (v *Venue) CancelOrder(ctx context.Context, req types.CancelRequest) error {
	v.mu.Lock()
	if err := v.checkConn(OpCancel); err != nil {
		v.mu.Unlock()
		return err
	}
	order, ok := v.findOrder(req.OrderID)
	if !ok {
		v.mu.Unlock()
		return gateway.NewVenueError(gateway.CategoryValidation, fmt.Sprintf("unknown order %s", req.OrderID), nil)
	}
	if !order.IsActive() {
		v.mu.Unlock()
		return gateway.NewVenueError(gateway.CategoryValidation, fmt.Sprintf("order %s already %s", req.OrderID, order.Status), nil)
	}
	order.Status = types.StatusCancelled
	order.Datetime = time.Now()
	v.orders[order.OrderID] = order
	v.mu.Unlock()

	v.listener.OnOrder(order)
	return nil
}

// findOrder 同时接受场所 id 和本地 id；需持有锁。
func (v *Venue) findOrder(id string) (types.OrderData, bool) {
	if o, ok := v.orders[id]; ok {
		return o, true
	}
	for _, o := range v.orders {
		if o.LocalID == id {
			return o, true
		}
	}
	return types.OrderData{}, false
}

func (v *Venue) SubscribeTicks(ctx context.Context, req types.SubscribeRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[Op(string(OpSubscribe)+":"+req.VTSymbol())]++
	if err := v.checkConn(OpSubscribe); err != nil {
		return err
	}
	known := false
	for _, c := range v.contracts {
		if c.VTSymbol() == req.VTSymbol() {
			known = true
			break
		}
	}
	if !known {
		return gateway.NewVenueError(gateway.CategoryValidation, fmt.Sprintf("unknown symbol %s", req.VTSymbol()), nil)
	}
	v.subs[req.VTSymbol()] = req
	return nil
}

// Fill 按价格成交 volume，依次推送成交、订单和持仓更新。
func (v *Venue) Fill(venueID string, volume, price decimal.Decimal) error {
	v.mu.Lock()
	order, ok := v.orders[venueID]
	if !ok || !order.IsActive() {
		v.mu.Unlock()
		return fmt.Errorf("order %s not fillable", venueID)
	}
	remaining := order.Volume.Sub(order.Traded)
	if volume.GreaterThan(remaining) {
		volume = remaining
	}
	order.Traded = order.Traded.Add(volume)
	if order.Traded.Equal(order.Volume) {
		order.Status = types.StatusAllTraded
	} else {
		order.Status = types.StatusPartTraded
	}
	order.Datetime = time.Now()
	v.orders[venueID] = order

	v.tradeSeq++
	trade := types.TradeData{
		Symbol: order.Symbol, Exchange: order.Exchange, OrderID: order.OrderID,
		LocalID: order.LocalID, TradeID: "T" + strconv.Itoa(v.tradeSeq), Direction: order.Direction, Offset: order.Offset,
		Price: price, Volume: volume, Datetime: order.Datetime,
	}
	pos := v.applyPosition(order, volume, price)
	v.mu.Unlock()

	v.listener.OnTrade(trade)
	v.listener.OnOrder(order)
	v.listener.OnPosition(pos)
	return nil
}

// applyPosition 维护净持仓；需持有锁。
func (v *Venue) applyPosition(order types.OrderData, volume, price decimal.Decimal) types.PositionData {
	key := order.VTSymbol()
	pos, ok := v.positions[key]
	if !ok {
		pos = types.PositionData{Symbol: order.Symbol, Exchange: order.Exchange, Direction: types.DirectionNet}
	}
	signed := volume
	if order.Direction == types.DirectionShort {
		signed = volume.Neg()
	}
	next := pos.Volume.Add(signed)
	switch {
	case next.IsZero():
		pos.Price = decimal.Zero
	case pos.Volume.IsZero() || pos.Volume.Sign() == signed.Sign():
		pos.Price = pos.Price.Mul(pos.Volume.Abs()).Add(price.Mul(volume)).Div(next.Abs())
	case pos.Volume.Sign() != next.Sign():
		pos.Price = price
	}
	pos.Volume = next
	v.positions[key] = pos
	return pos
}

// PushTick 推送一笔行情；未订阅的合约被忽略。
func (v *Venue) PushTick(tick types.TickData) bool {
	v.mu.Lock()
	_, subscribed := v.subs[tick.VTSymbol()]
	connected := v.connected
	v.mu.Unlock()
	if !subscribed || !connected {
		return false
	}
	if tick.Datetime.IsZero() {
		tick.Datetime = time.Now()
	}
	v.listener.OnTick(tick)
	return true
}

// SetBalance 修改账户余额，下次查询生效。
func (v *Venue) SetBalance(balance decimal.Decimal) {
	v.mu.Lock()
	v.balance = balance
	v.mu.Unlock()
}

// SetNextOrderID 设置下一笔订单的场所 id 起点。
func (v *Venue) SetNextOrderID(n int) {
	v.mu.Lock()
	v.seq = n - 1
	v.mu.Unlock()
}

// Order 返回场所侧的订单快照。
func (v *Venue) Order(venueID string) (types.OrderData, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[venueID]
	return o, ok
}
