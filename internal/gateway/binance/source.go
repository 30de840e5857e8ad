// Package binance 基于 go-binance SDK 实现 U 本位合约场所。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradehub/internal/gateway"
	"tradehub/internal/logger"
	"tradehub/internal/types"
)

const maxHistoryLimit = 1500

// Stats 汇总 websocket 的重连与错误。
type Stats struct {
	SubscribeErrors int
	Reconnects      int
	LastError       string
}

// Venue 实现 gateway.Venue。REST 调用直接返回，推送经 listener 回调。
type Venue struct {
	name     string
	listener gateway.VenueListener

	mu          sync.Mutex
	cfg         Config
	client      *futures.Client
	streamStop  context.CancelFunc
	tickCancels map[string]context.CancelFunc

	// session 前缀区分不同进程分配的本地 id
	session string
	placed  map[string]int64

	statsMu sync.Mutex
	stats   Stats
}

func New(name string, listener gateway.VenueListener) *Venue {
	return &Venue{
		name:        name,
		listener:    listener,
		tickCancels: make(map[string]context.CancelFunc),
		session:     "th" + strconv.FormatInt(time.Now().UnixMilli()%1_000_000_000, 36),
		placed:      make(map[string]int64),
	}
}

// Factory 适配 gateway.VenueFactory。
func Factory(name string, listener gateway.VenueListener) gateway.Venue {
	return New(name, listener)
}

func (v *Venue) Exchanges() []types.Exchange { return []types.Exchange{types.ExchangeBinance} }

func (v *Venue) SettingsSchema() string { return settingsSchema }

func newClient(cfg Config) (*futures.Client, error) {
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.BaseURL = cfg.RESTBaseURL
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, gateway.NewVenueError(gateway.CategoryValidation, "invalid proxy url", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
		futures.SetWsProxyUrl(cfg.ProxyURL)
	}
	client.HTTPClient = httpClient
	return client, nil
}

// Dial 校验连通性并启动用户数据流。用户数据流中断视为连接丢失。
func (v *Venue) Dial(ctx context.Context, settings gateway.Settings) error {
	cfg := configFromSettings(settings)
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	if err := client.NewPingService().Do(ctx); err != nil {
		return wrapErr(err)
	}
	listenKey, err := client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return wrapErr(err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	v.mu.Lock()
	v.cfg = cfg
	v.client = client
	if v.streamStop != nil {
		v.streamStop()
	}
	v.streamStop = cancel
	v.mu.Unlock()

	go v.runUserStream(streamCtx, client, listenKey)
	go v.keepAlive(streamCtx, client, listenKey)
	return nil
}

func (v *Venue) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.streamStop != nil {
		v.streamStop()
		v.streamStop = nil
	}
	for sym, cancel := range v.tickCancels {
		cancel()
		delete(v.tickCancels, sym)
	}
	v.client = nil
	return nil
}

func (v *Venue) rest() (*futures.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client == nil {
		return nil, gateway.ErrNotConnected
	}
	return v.client, nil
}

func (v *Venue) FetchContracts(ctx context.Context) ([]types.ContractData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	info, err := client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.ContractData, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		out = append(out, convertContract(s))
	}
	return out, nil
}

func (v *Venue) FetchAccounts(ctx context.Context) ([]types.AccountData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	acc, err := client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.AccountData, 0, len(acc.Assets))
	for _, a := range acc.Assets {
		if a == nil {
			continue
		}
		balance := dec(a.WalletBalance)
		if balance.IsZero() {
			continue
		}
		out = append(out, types.AccountData{
			AccountID: a.Asset,
			Balance:   balance,
			Frozen:    balance.Sub(dec(a.AvailableBalance)),
		})
	}
	return out, nil
}

func (v *Venue) FetchPositions(ctx context.Context) ([]types.PositionData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	risks, err := client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.PositionData, 0, len(risks))
	for _, p := range risks {
		if p == nil || dec(p.PositionAmt).IsZero() {
			continue
		}
		out = append(out, convertPosition(p))
	}
	return out, nil
}

func (v *Venue) FetchOpenOrders(ctx context.Context) ([]types.OrderData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	orders, err := client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.OrderData, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		order := convertOrder(o)
		order.LocalID = v.localID(o.ClientOrderID)
		out = append(out, order)
	}
	return out, nil
}

func (v *Venue) FetchBars(ctx context.Context, req types.HistoryRequest) ([]types.BarData, error) {
	client, err := v.rest()
	if err != nil {
		return nil, err
	}
	svc := client.NewKlinesService().Symbol(req.Symbol).Interval(mapInterval(req.Interval)).Limit(maxHistoryLimit)
	if !req.Start.IsZero() {
		svc = svc.StartTime(req.Start.UnixMilli())
	}
	if !req.End.IsZero() {
		svc = svc.EndTime(req.End.UnixMilli())
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]types.BarData, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, types.BarData{
			Symbol:   req.Symbol,
			Exchange: types.ExchangeBinance,
			Interval: req.Interval,
			Datetime: msTime(kl.OpenTime),
			Open:     dec(kl.Open),
			High:     dec(kl.High),
			Low:      dec(kl.Low),
			Close:    dec(kl.Close),
			Volume:   dec(kl.Volume),
		})
	}
	return out, nil
}

// PlaceOrder 以 localID 作为 newClientOrderId，推送里据此回填 LocalID。
func (v *Venue) PlaceOrder(ctx context.Context, localID string, req types.OrderRequest) (string, error) {
	client, err := v.rest()
	if err != nil {
		return "", err
	}
	svc := client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideOf(req.Direction)).
		Quantity(req.Volume.String()).
		NewClientOrderID(v.clientOrderID(localID))
	switch req.Type {
	case types.OrderTypeMarket:
		svc = svc.Type(futures.OrderTypeMarket)
	case types.OrderTypeStop:
		svc = svc.Type(futures.OrderTypeStopMarket).StopPrice(req.Price.String())
	default:
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price.String())
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return "", wrapErr(err)
	}
	v.mu.Lock()
	v.placed[localID] = resp.OrderID
	v.mu.Unlock()
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// clientOrderID 加会话前缀，避免进程重启后本地 id 与仍挂着的订单冲突。
func (v *Venue) clientOrderID(localID string) string {
	return v.session + "-" + localID
}

// localID 是 clientOrderID 的逆操作；其它来源的订单号原样返回。
func (v *Venue) localID(clientID string) string {
	if rest, ok := strings.CutPrefix(clientID, v.session+"-"); ok {
		return rest
	}
	return clientID
}

// CancelOrder 接受场所 id、本会话的本地 id 或其它来源的 clientOrderId。
func (v *Venue) CancelOrder(ctx context.Context, req types.CancelRequest) error {
	client, err := v.rest()
	if err != nil {
		return err
	}
	svc := client.NewCancelOrderService().Symbol(req.Symbol)
	v.mu.Lock()
	venueID, placed := v.placed[req.OrderID]
	v.mu.Unlock()
	if placed {
		svc = svc.OrderID(venueID)
	} else if id, perr := strconv.ParseInt(req.OrderID, 10, 64); perr == nil {
		svc = svc.OrderID(id)
	} else {
		svc = svc.OrigClientOrderID(req.OrderID)
	}
	_, err = svc.Do(ctx)
	return wrapErr(err)
}

// SubscribeTicks 为每个合约启动一个 bookTicker 推送循环，重复订阅会替换旧循环。
func (v *Venue) SubscribeTicks(ctx context.Context, req types.SubscribeRequest) error {
	if req.Exchange != types.ExchangeBinance {
		return gateway.NewVenueError(gateway.CategoryValidation, fmt.Sprintf("exchange %s not served", req.Exchange), nil)
	}
	if _, err := v.rest(); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	v.mu.Lock()
	if prev, ok := v.tickCancels[req.Symbol]; ok {
		prev()
	}
	v.tickCancels[req.Symbol] = cancel
	v.mu.Unlock()
	go v.runBookTickerLoop(loopCtx, req.Symbol)
	return nil
}

func (v *Venue) Stats() Stats {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	return v.stats
}

func (v *Venue) keepAlive(ctx context.Context, client *futures.Client, listenKey string) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := client.NewCloseUserStreamService().ListenKey(listenKey).Do(closeCtx); err != nil {
				logger.Debugf("[binance] close listen key: %v", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				logger.Warnf("[binance] keepalive listen key failed: %v", err)
			}
		}
	}
}
