package dashhttp

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tradefloor/internal/types"
)

const defaultRunLimit = 20

// faultStatus maps the error taxonomy onto HTTP status codes.
func faultStatus(err error) int {
	switch types.KindOf(err) {
	case types.FaultNotFound:
		return http.StatusNotFound
	case types.FaultInsufficientFunds, types.FaultInsufficientHoldings:
		return http.StatusConflict
	case types.FaultUpstreamUnavailable:
		return http.StatusBadGateway
	case types.FaultTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortFault(c *gin.Context, err error) {
	f := types.FaultFrom(err)
	c.JSON(faultStatus(err), gin.H{"error": f.Message, "kind": f.Kind})
}

func (s *Server) handleListTraders(c *gin.Context) {
	accounts, err := s.ledger.ListAccounts(c.Request.Context())
	if err != nil {
		abortFault(c, err)
		return
	}
	out := make([]gin.H, 0, len(accounts))
	for _, acct := range accounts {
		entry := gin.H{
			"name":         acct.Name,
			"display_name": acct.DisplayName,
			"balance":      acct.Balance,
			"holdings":     acct.Holdings,
			"mode":         acct.Mode,
			"active":       acct.Active,
		}
		// Valuation is best effort per account; a broken price feed must not
		// blank the whole roster listing.
		if val, err := s.ledger.Valuation(c.Request.Context(), acct.Name); err == nil {
			entry["total_value"] = val.TotalValue
			entry["pnl"] = val.PnL
			entry["pnl_percent"] = val.PnLPercent
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"traders": out})
}

func (s *Server) handleGetTrader(c *gin.Context) {
	name := c.Param("name")
	acct, err := s.ledger.GetAccount(c.Request.Context(), name)
	if err != nil {
		abortFault(c, err)
		return
	}
	resp := gin.H{"trader": acct}
	if val, err := s.ledger.Valuation(c.Request.Context(), name); err == nil {
		resp["valuation"] = val
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleTransactions(c *gin.Context) {
	txns, err := s.ledger.ListTransactions(c.Request.Context(), c.Param("name"))
	if err != nil {
		abortFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run log not enabled"})
		return
	}
	name := c.Param("name")
	if _, err := s.ledger.GetAccount(c.Request.Context(), name); err != nil {
		abortFault(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunLimit)))
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > 200 {
		limit = 200
	}
	runs, err := s.runs.ListRuns(c.Request.Context(), name, limit)
	if err != nil {
		abortFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleSetActive(c *gin.Context) {
	var body struct {
		Active *bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"active\": true|false}"})
		return
	}
	name := c.Param("name")
	if err := s.ledger.SetActive(c.Request.Context(), name, *body.Active); err != nil {
		abortFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "active": *body.Active})
}

func (s *Server) handleReset(c *gin.Context) {
	name := c.Param("name")
	if err := s.ledger.Reset(c.Request.Context(), name, s.ledger.SeedBalance()); err != nil {
		abortFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "reset": true, "balance": s.ledger.SeedBalance()})
}

func (s *Server) handleFloorStart(c *gin.Context) {
	if s.floor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "floor not enabled"})
		return
	}
	s.floor.Start(s.floorCtx)
	c.JSON(http.StatusOK, gin.H{"status": s.floor.Status()})
}

func (s *Server) handleFloorStop(c *gin.Context) {
	if s.floor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "floor not enabled"})
		return
	}
	s.floor.Stop()
	c.JSON(http.StatusOK, gin.H{"status": s.floor.Status()})
}

func (s *Server) handleFloorStatus(c *gin.Context) {
	if s.floor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "floor not enabled"})
		return
	}
	resp := gin.H{"status": s.floor.Status()}
	if last := s.floor.LastCycle(); last != nil {
		resp["last_cycle"] = last
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMarketStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  s.market.Status(),
		"plan":    s.market.Plan(),
		"breaker": s.market.BreakerState().String(),
	})
}

func (s *Server) handleMarketPrice(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	quote, err := s.market.GetPrice(c.Request.Context(), symbol)
	if err != nil {
		abortFault(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}
