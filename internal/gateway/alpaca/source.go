// Package alpaca 基于 alpaca-trade-api-go 实现美股场所：REST 交易、SSE 订单推送、轮询报价。
package alpaca

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradehub/internal/gateway"
	"tradehub/internal/types"
)

var servedExchanges = []types.Exchange{
	types.ExchangeNasdaq,
	types.ExchangeNYSE,
	types.ExchangeArca,
	types.ExchangeAmex,
	types.ExchangeOTC,
}

// Venue 实现 gateway.Venue。
type Venue struct {
	name     string
	listener gateway.VenueListener

	mu         sync.Mutex
	cfg        Config
	trading    *alpaca.Client
	data       *marketdata.Client
	streamStop context.CancelFunc
	pollStop   context.CancelFunc
	quoted     map[string]types.Exchange
	exchanges  map[string]types.Exchange

	session string
	placed  map[string]string

	pollErrors int
}

func New(name string, listener gateway.VenueListener) *Venue {
	return &Venue{
		name:      name,
		listener:  listener,
		quoted:    make(map[string]types.Exchange),
		exchanges: make(map[string]types.Exchange),
		session:   "th" + strconv.FormatInt(time.Now().UnixMilli()%1_000_000_000, 36),
		placed:    make(map[string]string),
	}
}

// Factory 适配 gateway.VenueFactory。
func Factory(name string, listener gateway.VenueListener) gateway.Venue {
	return New(name, listener)
}

func (v *Venue) Exchanges() []types.Exchange {
	return append([]types.Exchange(nil), servedExchanges...)
}

func (v *Venue) SettingsSchema() string { return settingsSchema }

// Dial 以 GetClock 探测凭证，然后启动订单推送流。
func (v *Venue) Dial(ctx context.Context, settings gateway.Settings) error {
	cfg := configFromSettings(settings)
	trading := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	dataOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		dataOpts.BaseURL = cfg.DataURL
	}
	if _, err := trading.GetClock(); err != nil {
		return wrapErr(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	v.mu.Lock()
	v.cfg = cfg
	v.trading = trading
	v.data = marketdata.NewClient(dataOpts)
	if v.streamStop != nil {
		v.streamStop()
	}
	v.streamStop = cancel
	v.mu.Unlock()

	go v.runTradeUpdates(streamCtx, trading)
	return nil
}

func (v *Venue) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.streamStop != nil {
		v.streamStop()
		v.streamStop = nil
	}
	if v.pollStop != nil {
		v.pollStop()
		v.pollStop = nil
	}
	v.quoted = make(map[string]types.Exchange)
	v.trading = nil
	v.data = nil
	return nil
}

func (v *Venue) rest() (*alpaca.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.trading == nil {
		return nil, gateway.ErrNotConnected
	}
	return v.trading, nil
}

func (v *Venue) exchangeOf(symbol string) types.Exchange {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ex, ok := v.exchanges[symbol]; ok {
		return ex
	}
	return types.ExchangeNasdaq
}

func (v *Venue) exchangeSnapshot() map[string]types.Exchange {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]types.Exchange, len(v.exchanges))
	for k, ex := range v.exchanges {
		out[k] = ex
	}
	return out
}

func (v *Venue) FetchContracts(ctx context.Context) ([]types.ContractData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	assets, err := client.GetAssets(alpaca.GetAssetsRequest{Status: "active", AssetClass: "us_equity"})
	if err != nil {
		return nil, wrapErr(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.ContractData, 0, len(assets))
	index := make(map[string]types.Exchange, len(assets))
	for _, a := range assets {
		if !a.Tradable {
			continue
		}
		ex := mapExchange(a.Exchange)
		index[a.Symbol] = ex
		minVolume := decimal.NewFromInt(1)
		if a.Fractionable {
			minVolume = decimal.New(1, -3)
		}
		product := types.ProductEquity
		if strings.Contains(strings.ToUpper(a.Name), " ETF") {
			product = types.ProductETF
		}
		out = append(out, types.ContractData{
			Symbol:      a.Symbol,
			Exchange:    ex,
			Name:        a.Name,
			Product:     product,
			Size:        decimal.NewFromInt(1),
			PriceTick:   decimal.New(1, -2),
			MinVolume:   minVolume,
			StopSupport: true,
			HistoryData: true,
		})
	}
	v.mu.Lock()
	v.exchanges = index
	v.mu.Unlock()
	return out, nil
}

func (v *Venue) FetchAccounts(ctx context.Context) ([]types.AccountData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	acc, err := client.GetAccount()
	if err != nil {
		return nil, wrapErr(err)
	}
	id := acc.AccountNumber
	if id == "" {
		id = acc.ID
	}
	frozen := acc.Cash.Sub(acc.BuyingPower)
	if frozen.IsNegative() {
		frozen = decimal.Zero
	}
	return []types.AccountData{{
		AccountID: id,
		Balance:   acc.Cash,
		Frozen:    frozen,
	}}, ctx.Err()
}

func (v *Venue) FetchPositions(ctx context.Context) ([]types.PositionData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	positions, err := client.GetPositions()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.PositionData, 0, len(positions))
	for _, p := range positions {
		if p.Qty.IsZero() {
			continue
		}
		out = append(out, types.PositionData{
			Symbol:    p.Symbol,
			Exchange:  mapExchange(p.Exchange),
			Direction: types.DirectionNet,
			Volume:    p.Qty,
			Price:     p.AvgEntryPrice,
		})
	}
	return out, ctx.Err()
}

func (v *Venue) FetchOpenOrders(ctx context.Context) ([]types.OrderData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	orders, err := client.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return nil, wrapErr(err)
	}
	exchanges := v.exchangeSnapshot()
	out := make([]types.OrderData, 0, len(orders))
	for _, o := range orders {
		order := convertOrder(o, exchanges)
		order.LocalID = v.localID(o.ClientOrderID)
		out = append(out, order)
	}
	return out, ctx.Err()
}

func (v *Venue) FetchBars(ctx context.Context, req types.HistoryRequest) ([]types.BarData, error) {
	if _, err := v.rest(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	data, feed := v.data, v.cfg.Feed
	v.mu.Unlock()
	end := req.End
	if end.IsZero() {
		end = time.Now()
	}
	bars, err := data.GetBars(req.Symbol, marketdata.GetBarsRequest{
		TimeFrame: timeFrameOf(req.Interval),
		Start:     req.Start,
		End:       end,
		Feed:      feed,
	})
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.BarData, 0, len(bars))
	for _, b := range bars {
		out = append(out, convertBar(req.Symbol, req.Exchange, req.Interval, b))
	}
	return out, ctx.Err()
}

// PlaceOrder 以带会话前缀的 localID 作为 client_order_id。
func (v *Venue) PlaceOrder(ctx context.Context, localID string, req types.OrderRequest) (string, error) {
	client, err := v.rest()
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	qty := req.Volume
	place := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          sideOf(req.Direction),
		TimeInForce:   alpaca.Day,
		ClientOrderID: v.session + "-" + localID,
	}
	price := req.Price
	switch req.Type {
	case types.OrderTypeMarket:
		place.Type = alpaca.Market
	case types.OrderTypeStop:
		place.Type = alpaca.Stop
		place.StopPrice = &price
	default:
		place.Type = alpaca.Limit
		place.LimitPrice = &price
	}
	order, err := client.PlaceOrder(place)
	if err != nil {
		return "", wrapErr(err)
	}
	v.mu.Lock()
	v.placed[localID] = order.ID
	v.mu.Unlock()
	return order.ID, nil
}

func (v *Venue) localID(clientID string) string {
	if rest, ok := strings.CutPrefix(clientID, v.session+"-"); ok {
		return rest
	}
	return clientID
}

func (v *Venue) CancelOrder(ctx context.Context, req types.CancelRequest) error {
	client, err := v.rest()
	if err != nil {
		return err
	}
	v.mu.Lock()
	venueID, ok := v.placed[req.OrderID]
	v.mu.Unlock()
	if !ok {
		venueID = req.OrderID
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrapErr(client.CancelOrder(venueID))
}

// SubscribeTicks 把合约加入报价轮询集合，首个订阅时启动轮询。
func (v *Venue) SubscribeTicks(ctx context.Context, req types.SubscribeRequest) error {
	served := false
	for _, ex := range servedExchanges {
		if ex == req.Exchange {
			served = true
			break
		}
	}
	if !served {
		return gateway.NewVenueError(gateway.CategoryValidation, fmt.Sprintf("exchange %s not served", req.Exchange), nil)
	}
	if _, err := v.rest(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quoted[req.Symbol] = req.Exchange
	if v.pollStop == nil {
		pollCtx, cancel := context.WithCancel(context.Background())
		v.pollStop = cancel
		go v.pollQuotes(pollCtx, v.data, v.cfg)
	}
	return nil
}

func (v *Venue) quotedSymbols() ([]string, map[string]types.Exchange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	symbols := make([]string, 0, len(v.quoted))
	exchanges := make(map[string]types.Exchange, len(v.quoted))
	for sym, ex := range v.quoted {
		symbols = append(symbols, sym)
		exchanges[sym] = ex
	}
	sort.Strings(symbols)
	return symbols, exchanges
}

// PollErrors 返回报价轮询累计失败次数。
func (v *Venue) PollErrors() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pollErrors
}
