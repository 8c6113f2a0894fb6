package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/config"
	"github.com/iliyamo/raffle-settlement/internal/middleware"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"github.com/iliyamo/raffle-settlement/internal/service"
	"github.com/iliyamo/raffle-settlement/internal/utils"
)

// LedgerWriter records payment notifications entered by hand.
type LedgerWriter interface {
	Insert(ctx context.Context, e *model.LedgerEntry) error
}

// ReviewAdmin is the review queue as seen by an operator.
type ReviewAdmin interface {
	Get(ctx context.Context, id uint64) (*model.Review, error)
	List(ctx context.Context, status string, limit int) ([]model.Review, error)
	Resolve(ctx context.Context, id uint64, note string) error
}

// Reconciliation runs one repair pass on demand.
type Reconciliation interface {
	RunOnce(ctx context.Context) (service.Report, error)
}

// OperatorHandler bundles the operator-only endpoints.  All but Login
// assume JWTAuth and RequireRole(OPERATOR) already ran.
type OperatorHandler struct {
	Cfg          config.OperatorConfig
	JWTSecret    string
	AccessTTLMin int
	Ledger       LedgerWriter
	Reviews      ReviewAdmin
	Reconciler   Reconciliation
	Log          *zap.Logger
}

func NewOperatorHandler(cfg config.OperatorConfig, secret string, ttlMin int, ledger LedgerWriter, reviews ReviewAdmin, rec Reconciliation, log *zap.Logger) *OperatorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OperatorHandler{
		Cfg:          cfg,
		JWTSecret:    secret,
		AccessTTLMin: ttlMin,
		Ledger:       ledger,
		Reviews:      reviews,
		Reconciler:   rec,
		Log:          log,
	}
}

// ----- DTOs -----

type loginReq struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type ledgerReq struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Bank      string          `json:"bank"`
	Sender    string          `json:"sender"`
}

type resolveReq struct {
	Note string `json:"note"`
}

// Login: check the configured operator credential and issue an access token.
func (h *OperatorHandler) Login(c echo.Context) error {
	if h.Cfg.PasswordHash == "" {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "operator login disabled"})
	}
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.User = strings.TrimSpace(req.User)
	if req.User == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user/password required"})
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.User), []byte(h.Cfg.User)) == 1
	passOK := utils.VerifyPassword(h.Cfg.PasswordHash, req.Password)
	if !userOK || !passOK {
		h.Log.Warn("operator login rejected", zap.String("user", req.User), zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	access, err := utils.NewAccessToken(h.JWTSecret, h.Cfg.User, middleware.RoleOperator, h.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"access": tokenPart{Token: access.Token, Expires: access.Exp}})
}

// CreateLedgerEntry handles POST /v1/operator/ledger, used when the bank
// notification did not arrive through the ingestion path.
func (h *OperatorHandler) CreateLedgerEntry(c echo.Context) error {
	var req ledgerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ref := strings.TrimSpace(req.Reference)
	if ref == "" || strings.Trim(ref, "0123456789") != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reference must contain digits only"})
	}
	if !req.Amount.IsPositive() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "amount must be positive"})
	}

	entry := &model.LedgerEntry{
		Reference: ref,
		Amount:    req.Amount.Round(2),
		Bank:      strings.TrimSpace(req.Bank),
		Sender:    strings.TrimSpace(req.Sender),
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Ledger.Insert(ctx, entry); err != nil {
		h.Log.Error("ledger insert", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	h.Log.Info("ledger entry added by operator",
		zap.Uint64("ledger_entry_id", entry.ID),
		zap.String("operator", operatorOf(c)))
	return c.JSON(http.StatusCreated, entry)
}

// ListReviews handles GET /v1/operator/reviews?status=OPEN|RESOLVED|ALL&limit=n.
func (h *OperatorHandler) ListReviews(c echo.Context) error {
	status := strings.ToUpper(strings.TrimSpace(c.QueryParam("status")))
	switch status {
	case "":
		status = model.ReviewOpen
	case "ALL":
		status = ""
	case model.ReviewOpen, model.ReviewResolved:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	limit := 100
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}

	items, err := h.Reviews.List(c.Request().Context(), status, limit)
	if err != nil {
		h.Log.Error("list reviews", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ResolveReview handles POST /v1/operator/reviews/:id/resolve.
func (h *OperatorHandler) ResolveReview(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req resolveReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "resolved by " + operatorOf(c)
	}

	ctx := c.Request().Context()
	if _, err := h.Reviews.Get(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "review not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := h.Reviews.Resolve(ctx, id, note); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "review already resolved"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	rv, err := h.Reviews.Get(ctx, id)
	if err != nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, rv)
}

// Reconcile handles POST /v1/operator/reconcile.  The report is returned
// even when some steps failed.
func (h *OperatorHandler) Reconcile(c echo.Context) error {
	report, err := h.Reconciler.RunOnce(c.Request().Context())
	if err != nil {
		h.Log.Error("manual reconcile", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error(), "report": report})
	}
	return c.JSON(http.StatusOK, echo.Map{"report": report})
}

func operatorOf(c echo.Context) string {
	if v, ok := c.Get(middleware.CtxOperator).(string); ok {
		return v
	}
	return "operator"
}
