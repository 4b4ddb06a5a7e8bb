package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trading-gateway/internal/gateway"
	"trading-gateway/internal/killswitch"
	"trading-gateway/internal/monitor"
	"trading-gateway/pkg/db"
	"trading-gateway/pkg/exchanges/common"
)

// gatewayFor resolves ?account= (or the default account) to its gateway,
// building it on first use. It writes the error response itself.
func (s *Server) gatewayFor(c *gin.Context) (*gateway.Gateway, bool) {
	account := c.DefaultQuery("account", s.opts.DefaultAccount)
	gw, err := s.opts.Manager.Get(c.Request.Context(), account)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return gw, true
}

func (s *Server) getSystem(c *gin.Context) {
	c.JSON(http.StatusOK, monitor.Snapshot(s.opts.Manager, s.started))
}

func (s *Server) getSession(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": gw.Account(), "session": gw.Session()})
}

func (s *Server) startSession(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	if err := gw.Start(c.Request.Context()); err != nil {
		s.opts.Manager.RecordFailure(gw.Account())
		writeError(c, err)
		return
	}
	s.opts.Manager.RecordSuccess(gw.Account())
	c.JSON(http.StatusOK, gin.H{"account": gw.Account(), "session": gw.Session()})
}

func (s *Server) stopSession(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator stop"
	}
	stopped := gw.Stop(req.Reason)
	c.JSON(http.StatusOK, gin.H{"account": gw.Account(), "stopped": stopped, "session": gw.Session()})
}

func (s *Server) killSwitch(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_PAYLOAD", err)
		return
	}
	mode, err := killswitch.ParseMode(req.Mode)
	if err != nil {
		badRequest(c, "INVALID_MODE", err)
		return
	}
	s.logger.Warn().Str("account", gw.Account()).Str("mode", string(mode)).
		Str("operator", c.GetString(operatorContextKey)).Msg("kill switch requested")

	report, err := gw.KillSwitch(c.Request.Context(), mode)
	if err != nil {
		// Partial failures still carry the report.
		status, code := statusFor(err)
		c.JSON(status, gin.H{"code": code, "error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

type openPositionRequest struct {
	ProductID  int64   `json:"product_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side" binding:"required"`
	Type       string  `json:"type"`
	Qty        float64 `json:"qty" binding:"required"`
	LimitPrice float64 `json:"limit_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Strategy   string  `json:"strategy"`
}

func (r openPositionRequest) order() common.OrderRequest {
	typ := common.OrderType(r.Type)
	if typ == "" {
		typ = common.OrderTypeMarket
	}
	return common.OrderRequest{
		ProductID:  r.ProductID,
		Symbol:     r.Symbol,
		Side:       common.Side(r.Side),
		Type:       typ,
		Qty:        r.Qty,
		LimitPrice: r.LimitPrice,
		StopLoss:   r.StopLoss,
		TakeProfit: r.TakeProfit,
		Strategy:   r.Strategy,
	}
}

func (s *Server) openPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_PAYLOAD", err)
		return
	}
	order := req.order()
	if err := order.Validate(); err != nil {
		badRequest(c, "INVALID_ORDER", err)
		return
	}
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	pos, err := gw.OpenPosition(c.Request.Context(), order)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pos)
}

func (s *Server) closePosition(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	pos, err := gw.ClosePosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) getPositions(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": gw.Account(), "positions": gw.Positions()})
}

func (s *Server) refreshPositions(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	report, err := gw.Refresh(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getRisk(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": gw.Account(),
		"metrics": gw.RiskMetrics(),
		"config":  gw.Risk().Config(),
		"stats":   gw.Risk().Stats(),
	})
}

func (s *Server) updateRisk(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	cfg := gw.Risk().Config()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, "INVALID_PAYLOAD", err)
		return
	}
	if err := gw.Risk().UpdateConfig(cfg); err != nil {
		badRequest(c, "INVALID_RISK_CONFIG", err)
		return
	}
	c.JSON(http.StatusOK, gw.Risk().Config())
}

func (s *Server) getBalances(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": gw.Account(), "balances": gw.Balances()})
}

func (s *Server) getClock(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": gw.Account(), "clock": gw.Clock()})
}

func (s *Server) getProducts(c *gin.Context) {
	gw, ok := s.gatewayFor(c)
	if !ok {
		return
	}
	list, err := gw.Products(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	products := list.Items
	if products == nil {
		products = []common.Product{}
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "degraded": list.Degraded})
}

func (s *Server) getEvents(c *gin.Context) {
	if s.opts.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "JOURNAL_DISABLED", "error": "event journal not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := s.opts.Journal.Recent(c.Request.Context(), c.Query("topic"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
		return
	}
	if account := c.Query("account"); account != "" {
		kept := rows[:0]
		for _, r := range rows {
			if r.Account == account {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	if rows == nil {
		rows = []db.EventRow{}
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}
