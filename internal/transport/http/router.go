package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tradegate/internal/engine"
	"tradegate/internal/ledger"
	"tradegate/internal/logger"
	"tradegate/internal/market"
	"tradegate/internal/oracle"
	"tradegate/internal/policy"
	"tradegate/internal/report"
	"tradegate/internal/rules"
	"tradegate/internal/settlement"
	"tradegate/internal/signal"
	"tradegate/internal/store/auditlog"
	"tradegate/internal/types"

	"github.com/gin-gonic/gin"
)

const maxProposeBodyBytes = 1 << 20

// Router bundles the pipeline components the HTTP surface reads from.
// Producer and Market are optional; their endpoints answer 503 when absent.
type Router struct {
	Engine     *engine.Engine
	Gate       *oracle.Gate
	Rules      *rules.Engine
	Policies   *policy.Store
	Chain      *ledger.Ledger
	Reconciler *settlement.Reconciler
	Portfolio  *types.PortfolioState
	Producer   *signal.Producer
	Market     market.Source
	Audit      *auditlog.Store
}

// Register mounts all API routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/trades/propose", r.handlePropose)
	group.POST("/trades/auto", r.handleAutoPropose)

	group.GET("/policy", r.handlePolicyGet)
	group.PUT("/policy", r.handlePolicyUpdate)
	group.GET("/policy/versions", r.handlePolicyVersions)

	group.GET("/ledger", r.handleLedger)
	group.GET("/ledger/integrity", r.handleIntegrity)

	group.GET("/verifications", r.handleVerifications)
	group.GET("/oracle/stats", r.handleOracleStats)
	group.GET("/validations", r.handleValidations)
	group.GET("/contract/stats", r.handleContractStats)

	group.GET("/audit", r.handleAudit)

	group.GET("/settlements", r.handleSettlements)
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/report/pnl", r.handlePnLReport)
}

func (r *Router) handlePropose(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProposeBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}
	if err := validateProposeBody(body); err != nil {
		logger.Warnf("[api] propose rejected by schema ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req engine.ProposeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := r.Engine.ProposeTrade(c.Request.Context(), req)
	if err != nil {
		logger.Errorf("[api] propose failed ip=%s symbol=%s err=%v", c.ClientIP(), req.Signal.Symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusUnprocessableEntity
	}
	logger.Infof("[api] propose ip=%s symbol=%s side=%s accepted=%v", c.ClientIP(), req.Signal.Symbol, req.Signal.Side, result.Accepted)
	c.JSON(status, result)
}

type autoProposeRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Force  bool   `json:"force"`
}

// handleAutoPropose produces a signal from market data and feeds it through
// the same pipeline as an external proposal.
func (r *Router) handleAutoPropose(c *gin.Context) {
	if r.Producer == nil || r.Market == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal producer not configured"})
		return
	}
	var req autoProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	sig, err := r.Producer.Produce(ctx, req.Symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	snapshot, err := r.Market.Snapshot(ctx, req.Symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	result, err := r.Engine.ProposeTrade(ctx, engine.ProposeRequest{
		Signal:   sig,
		Snapshot: snapshot,
		Force:    req.Force,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"signal": sig, "result": result})
}

func (r *Router) handlePolicyGet(c *gin.Context) {
	c.JSON(http.StatusOK, r.Policies.Current())
}

func (r *Router) handlePolicyUpdate(c *gin.Context) {
	var patch policy.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := r.Policies.Update(patch)
	if err != nil {
		if errors.Is(err, policy.ErrNoOpUpdate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] policy updated ip=%s version=%d", c.ClientIP(), updated.Version)
	c.JSON(http.StatusOK, updated)
}

func (r *Router) handlePolicyVersions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"versions": r.Policies.Versions()})
}

func (r *Router) handleLedger(c *gin.Context) {
	fromStr := strings.TrimSpace(c.Query("from"))
	toStr := strings.TrimSpace(c.Query("to"))
	if fromStr != "" || toStr != "" {
		from, err1 := strconv.ParseInt(fromStr, 10, 64)
		to, err2 := strconv.ParseInt(toStr, 10, 64)
		if err1 != nil || err2 != nil || from < 1 || to < from {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from/to must be a valid block range"})
			return
		}
		blocks, err := r.Chain.Range(from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"blocks": blocks})
		return
	}
	limit := parseLimit(c, 50, 500)
	blocks, err := r.Chain.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	count, err := r.Chain.Count()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks, "total_count": count})
}

func (r *Router) handleIntegrity(c *gin.Context) {
	rep, err := r.Chain.VerifyChain()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !rep.Valid {
		logger.Errorf("[api] integrity check failed block=%d msg=%s", rep.BrokenAtBlock, rep.Message)
	}
	c.JSON(http.StatusOK, rep)
}

func (r *Router) handleVerifications(c *gin.Context) {
	limit := parseLimit(c, 50, 500)
	c.JSON(http.StatusOK, gin.H{"verifications": r.Gate.History(limit)})
}

func (r *Router) handleOracleStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.Gate.Stats())
}

func (r *Router) handleValidations(c *gin.Context) {
	limit := parseLimit(c, 50, 500)
	c.JSON(http.StatusOK, gin.H{"validations": r.Rules.History(limit)})
}

func (r *Router) handleAudit(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit trail not configured"})
		return
	}
	q := auditlog.Query{
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Limit:  parseLimit(c, 50, 500),
	}
	if accepted := strings.TrimSpace(c.Query("accepted")); accepted != "" {
		v, err := strconv.ParseBool(accepted)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "accepted must be a boolean"})
			return
		}
		q.Accepted = &v
	}
	ctx := c.Request.Context()
	entries, err := r.Audit.List(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := r.Audit.Count(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total_count": total})
}

func (r *Router) handleContractStats(c *gin.Context) {
	c.JSON(http.StatusOK, r.Rules.Stats())
}

func (r *Router) handleSettlements(c *gin.Context) {
	limit := parseLimit(c, 50, 500)
	records, err := r.Reconciler.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"settlements": records,
		"summary":     report.Summarize(records),
	})
}

func (r *Router) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, r.Portfolio.Snapshot())
}

func (r *Router) handlePnLReport(c *gin.Context) {
	records, err := r.Reconciler.History(1000)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	html, err := report.RenderPnL(records)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) handleHealth(c *gin.Context) {
	count, err := r.Chain.Count()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	resp := gin.H{
		"status":         "ok",
		"block_count":    count,
		"policy_version": r.Policies.Current().Version,
	}
	if r.Market != nil {
		resp["market"] = r.Market.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func parseLimit(c *gin.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}
