package livehttp

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tradehub/internal/engine"
	"tradehub/internal/gateway"
	"tradehub/internal/logger"
	"tradehub/internal/pkg/circuit"
	"tradehub/internal/types"
)

const maxListLimit = 500

// Router 暴露 OMS 查询与按网关路由的交易接口。
type Router struct {
	engine  Engine
	journal Journal
}

func NewRouter(e Engine, j Journal) *Router {
	return &Router{engine: e, journal: j}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/gateways", r.handleGateways)
	group.GET("/orders", r.handleOrders)
	group.GET("/orders/active", r.handleActiveOrders)
	group.GET("/orders/:vt_orderid", r.handleOrder)
	group.GET("/trades", r.handleTrades)
	group.GET("/positions", r.handlePositions)
	group.GET("/accounts", r.handleAccounts)
	group.GET("/contracts", r.handleContracts)
	group.GET("/ticks/:vt_symbol", r.handleTick)

	group.POST("/gateways/:name/orders", r.handleSendOrder)
	group.POST("/gateways/:name/cancel", r.handleCancel)
	group.POST("/gateways/:name/subscribe", r.handleSubscribe)

	group.GET("/journal/orders", r.handleJournalOrders)
	group.GET("/journal/trades", r.handleJournalTrades)
	group.GET("/journal/logs", r.handleJournalLogs)
}

func (r *Router) handleGateways(c *gin.Context) {
	names := r.engine.GetAllGatewayNames()
	out := make([]GatewayView, 0, len(names))
	for _, name := range names {
		gw, err := r.engine.GetGateway(name)
		if err != nil {
			continue
		}
		view := GatewayView{Name: name, State: gw.State().String(), Exchanges: gw.Exchanges()}
		if full, ok := gw.(*gateway.Gateway); ok {
			view.Subscriptions = full.Subscriptions()
			view.Breaker = full.BreakerState().String()
		}
		out = append(out, view)
	}
	c.JSON(http.StatusOK, gin.H{"gateways": out})
}

func (r *Router) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": r.engine.GetAllOrders()})
}

// handleActiveOrders 支持 ?vt_symbol= 过滤。
func (r *Router) handleActiveOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": r.engine.GetActiveOrders(strings.TrimSpace(c.Query("vt_symbol")))})
}

func (r *Router) handleOrder(c *gin.Context) {
	order, ok := r.engine.GetOrder(c.Param("vt_orderid"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, order)
}

func (r *Router) handleTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": r.engine.GetAllTrades()})
}

func (r *Router) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": r.engine.GetAllPositions()})
}

func (r *Router) handleAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": r.engine.GetAllAccounts()})
}

func (r *Router) handleContracts(c *gin.Context) {
	contracts := r.engine.GetAllContracts()
	if ex := strings.ToUpper(strings.TrimSpace(c.Query("exchange"))); ex != "" {
		filtered := contracts[:0]
		for _, ct := range contracts {
			if string(ct.Exchange) == ex {
				filtered = append(filtered, ct)
			}
		}
		contracts = filtered
	}
	c.JSON(http.StatusOK, gin.H{"contracts": contracts})
}

func (r *Router) handleTick(c *gin.Context) {
	tick, ok := r.engine.GetTick(c.Param("vt_symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no tick"})
		return
	}
	c.JSON(http.StatusOK, tick)
}

func (r *Router) handleSendOrder(c *gin.Context) {
	var req types.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Exchange = types.Exchange(strings.ToUpper(string(req.Exchange)))
	req.Direction = types.Direction(strings.ToUpper(string(req.Direction)))
	req.Type = types.OrderType(strings.ToUpper(string(req.Type)))
	name := c.Param("name")
	vtOrderID, err := r.engine.SendOrder(c.Request.Context(), req, name)
	if err != nil {
		logger.Warnf("[api] send order via %s failed ip=%s err=%v", name, c.ClientIP(), err)
		body := gin.H{"error": err.Error()}
		if vtOrderID != "" {
			body["vt_orderid"] = vtOrderID
		}
		c.JSON(statusOf(err), body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vt_orderid": vtOrderID})
}

func (r *Router) handleCancel(c *gin.Context) {
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, ok := r.engine.GetOrder(body.VTOrderID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	name := c.Param("name")
	if order.GatewayName != name {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order belongs to gateway " + order.GatewayName})
		return
	}
	if err := r.engine.CancelOrder(c.Request.Context(), order.CreateCancelRequest(), name); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"vt_orderid": order.VTOrderID()})
}

// handleSubscribe 接受 {"vt_symbol": "..."} 或 {"symbol","exchange"}。
func (r *Router) handleSubscribe(c *gin.Context) {
	var body struct {
		VTSymbol string `json:"vt_symbol"`
		types.SubscribeRequest
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := body.SubscribeRequest
	if body.VTSymbol != "" {
		symbol, ex, err := types.ParseVTSymbol(body.VTSymbol)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req = types.SubscribeRequest{Symbol: symbol, Exchange: ex}
	}
	if req.Symbol == "" || req.Exchange == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and exchange required"})
		return
	}
	if err := r.engine.Subscribe(c.Request.Context(), req, c.Param("name")); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vt_symbol": req.VTSymbol()})
}

func (r *Router) handleJournalOrders(c *gin.Context) {
	if r.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	orders, err := r.journal.Orders(c.Request.Context(), limitOf(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleJournalTrades(c *gin.Context) {
	if r.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	trades, err := r.journal.Trades(c.Request.Context(), limitOf(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleJournalLogs(c *gin.Context) {
	if r.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	logs, err := r.journal.Logs(c.Request.Context(), limitOf(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func limitOf(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// statusOf 把引擎/网关错误映射为 HTTP 状态码。
func statusOf(err error) int {
	var unknown *engine.UnknownGatewayError
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, gateway.ErrConnectInProgress):
		return http.StatusConflict
	case errors.Is(err, circuit.ErrOpen):
		return http.StatusServiceUnavailable
	}
	switch gateway.Classify(err) {
	case gateway.CategoryValidation:
		return http.StatusBadRequest
	case gateway.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
