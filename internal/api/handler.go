package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/taskfi/taskfi-escrow/internal/auth"
	"github.com/taskfi/taskfi-escrow/internal/cache"
	"github.com/taskfi/taskfi-escrow/internal/service"
	"github.com/taskfi/taskfi-escrow/pkg/logger"
	"go.uber.org/zap"
)

type Handler struct {
	ledger   *service.LedgerService
	auctions *service.AuctionService

	taskCache *cache.TaskCache

	healthChecker HealthChecker

	logger *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

func (h *Handler) WithHealthChecker(c HealthChecker) *Handler {
	h.healthChecker = c
	return h
}

func (h *Handler) WithLedgerService(ledger *service.LedgerService) *Handler {
	h.ledger = ledger
	return h
}

func (h *Handler) WithAuctionService(auctions *service.AuctionService) *Handler {
	h.auctions = auctions
	return h
}

func (h *Handler) WithTaskCache(c *cache.TaskCache) *Handler {
	h.taskCache = c
	return h
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.Validator = NewValidator()
	e.Use(middleware.RequestID())
	e.Use(ZapLoggerMiddleware(h.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", h.healthChecker.HealthCheck())

	userSecurity := e.Group("", AuthMiddleware(auth.TokenTypeUser, auth.TokenTypeAdmin))

	userSecurity.POST("/team/initialize", h.InitializeTeam)
	userSecurity.POST("/vault/deposit", h.Deposit)
	userSecurity.POST("/vault/payout", h.VaultPayout)
	userSecurity.GET("/vault/balance", h.VaultBalance)
	userSecurity.GET("/wallet/balance", h.WalletBalance)
	userSecurity.POST("/task/create", h.CreateTask)
	userSecurity.POST("/task/bid", h.PlaceBid)
	userSecurity.POST("/task/finalize", h.FinalizeAuction)
	userSecurity.POST("/task/assign", h.AssignTask)
	userSecurity.POST("/task/complete", h.MarkComplete)
	userSecurity.POST("/task/verify", h.VerifyTask)
	userSecurity.POST("/task/payout", h.PayoutTask)
	userSecurity.GET("/task", h.GetTask)

	adminSecurity := e.Group("", AuthMiddleware(auth.TokenTypeAdmin))

	adminSecurity.POST("/wallet/airdrop", h.Airdrop)
}

func (h *Handler) InitializeTeam(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TeamID uint64 `json:"team_id"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	caller := callerWallet(e)

	l.Info("initializing team",
		zap.String("authority", caller),
		zap.Uint64("team_id", req.TeamID))

	team, err := h.ledger.InitializeTeam(e.Request().Context(), caller, req.TeamID)
	if err != nil {
		l.Error("failed to initialize team",
			zap.Uint64("team_id", req.TeamID),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, team)
}

func (h *Handler) Deposit(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TeamAddress string `json:"team_address" validate:"required"`
		Amount      int64  `json:"amount"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("depositing to vault",
		zap.String("team_address", req.TeamAddress),
		zap.Int64("amount", req.Amount))

	vault, err := h.ledger.Deposit(e.Request().Context(), callerWallet(e), req.TeamAddress, req.Amount)
	if err != nil {
		l.Error("failed to deposit",
			zap.String("team_address", req.TeamAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, vault)
}

func (h *Handler) VaultPayout(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TeamAddress string `json:"team_address" validate:"required"`
		Recipient   string `json:"recipient" validate:"required"`
		Amount      int64  `json:"amount"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("paying out from vault",
		zap.String("team_address", req.TeamAddress),
		zap.String("recipient", req.Recipient),
		zap.Int64("amount", req.Amount))

	vault, err := h.ledger.Payout(e.Request().Context(), callerWallet(e), req.TeamAddress, req.Recipient, req.Amount)
	if err != nil {
		l.Error("failed to pay out",
			zap.String("team_address", req.TeamAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, vault)
}

func (h *Handler) VaultBalance(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	teamAddress := e.QueryParam("team_address")

	balance, err := h.ledger.VaultBalance(e.Request().Context(), teamAddress)
	if err != nil {
		l.Error("failed to read vault balance",
			zap.String("team_address", teamAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, balance)
}

func (h *Handler) WalletBalance(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	address := e.QueryParam("address")
	if address == "" {
		address = callerWallet(e)
	}

	balance, err := h.ledger.WalletBalance(e.Request().Context(), address)
	if err != nil {
		l.Error("failed to read wallet balance",
			zap.String("address", address),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, balance)
}

func (h *Handler) Airdrop(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		Address string `json:"address" validate:"required"`
		Amount  int64  `json:"amount"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("airdropping lamports",
		zap.String("address", req.Address),
		zap.Int64("amount", req.Amount))

	wallet, err := h.ledger.Airdrop(e.Request().Context(), req.Address, req.Amount)
	if err != nil {
		l.Error("failed to airdrop", zap.String("address", req.Address), zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusOK, wallet)
}

func (h *Handler) CreateTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TeamAddress   string    `json:"team_address" validate:"required"`
		TaskID        uint64    `json:"task_id"`
		ReserveReward int64     `json:"reserve_reward"`
		AuctionEnd    time.Time `json:"auction_end" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("creating task auction",
		zap.String("team_address", req.TeamAddress),
		zap.Uint64("task_id", req.TaskID),
		zap.Int64("reserve_reward", req.ReserveReward))

	task, err := h.auctions.CreateTaskAuction(e.Request().Context(),
		callerWallet(e), req.TeamAddress, req.TaskID, req.ReserveReward, req.AuctionEnd)
	if err != nil {
		l.Error("failed to create task",
			zap.Uint64("task_id", req.TaskID),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	return e.JSON(http.StatusCreated, task)
}

func (h *Handler) PlaceBid(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TaskAddress string `json:"task_address" validate:"required"`
		Amount      int64  `json:"amount"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("placing bid",
		zap.String("task_address", req.TaskAddress),
		zap.Int64("amount", req.Amount))

	task, err := h.auctions.PlaceBid(e.Request().Context(), callerWallet(e), req.TaskAddress, req.Amount)
	if err != nil {
		l.Error("failed to place bid",
			zap.String("task_address", req.TaskAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	h.taskCache.Invalidate(e.Request().Context(), req.TaskAddress)

	return e.JSON(http.StatusOK, task)
}

func (h *Handler) FinalizeAuction(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TaskAddress string `json:"task_address" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("finalizing auction", zap.String("task_address", req.TaskAddress))

	result, err := h.auctions.FinalizeAuction(e.Request().Context(), req.TaskAddress)
	if err != nil {
		l.Error("failed to finalize auction",
			zap.String("task_address", req.TaskAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	h.taskCache.Invalidate(e.Request().Context(), req.TaskAddress)

	return e.JSON(http.StatusOK, result)
}

func (h *Handler) AssignTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TaskAddress string `json:"task_address" validate:"required"`
		Assignee    string `json:"assignee" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("assigning task",
		zap.String("task_address", req.TaskAddress),
		zap.String("assignee", req.Assignee))

	result, err := h.auctions.AssignTask(e.Request().Context(), callerWallet(e), req.TaskAddress, req.Assignee)
	if err != nil {
		l.Error("failed to assign task",
			zap.String("task_address", req.TaskAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	h.taskCache.Invalidate(e.Request().Context(), req.TaskAddress)

	return e.JSON(http.StatusOK, result)
}

func (h *Handler) MarkComplete(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TaskAddress string `json:"task_address" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("marking task complete", zap.String("task_address", req.TaskAddress))

	task, err := h.auctions.MarkComplete(e.Request().Context(), callerWallet(e), req.TaskAddress)
	if err != nil {
		l.Error("failed to mark task complete",
			zap.String("task_address", req.TaskAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	h.taskCache.Invalidate(e.Request().Context(), req.TaskAddress)

	return e.JSON(http.StatusOK, task)
}

func (h *Handler) VerifyTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TaskAddress string `json:"task_address" validate:"required"`
		Description string `json:"description" validate:"required"`
		MediaURL    string `json:"media_url" validate:"omitempty,url"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("verifying task completion", zap.String("task_address", req.TaskAddress))

	task, err := h.auctions.VerifyAndComplete(e.Request().Context(),
		callerWallet(e), req.TaskAddress, req.Description, req.MediaURL)
	if err != nil {
		l.Error("failed to verify task",
			zap.String("task_address", req.TaskAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	h.taskCache.Invalidate(e.Request().Context(), req.TaskAddress)

	return e.JSON(http.StatusOK, task)
}

func (h *Handler) PayoutTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	var req struct {
		TaskAddress string `json:"task_address" validate:"required"`
	}

	if err := h.decodeRequest(e, &req); err != nil {
		l.Error("invalid request", zap.Any("error", err))
		return h.transportError(e, err)
	}

	l.Info("paying out task", zap.String("task_address", req.TaskAddress))

	task, err := h.auctions.PayoutTask(e.Request().Context(), callerWallet(e), req.TaskAddress)
	if err != nil {
		l.Error("failed to pay out task",
			zap.String("task_address", req.TaskAddress),
			zap.Any("error", err))
		return h.transportError(e, err)
	}

	h.taskCache.Invalidate(e.Request().Context(), req.TaskAddress)

	return e.JSON(http.StatusOK, task)
}

func (h *Handler) GetTask(e echo.Context) error {
	l := logger.FromContext(e.Request().Context())

	address := e.QueryParam("address")

	if cached := h.taskCache.Get(e.Request().Context(), address); cached != nil {
		return e.JSON(http.StatusOK, cached)
	}

	task, err := h.auctions.GetTask(e.Request().Context(), address)
	if err != nil {
		l.Error("failed to get task", zap.String("address", address), zap.Any("error", err))
		return h.transportError(e, err)
	}

	h.taskCache.Set(e.Request().Context(), task)

	return e.JSON(http.StatusOK, task)
}

func callerWallet(e echo.Context) string {
	claims, ok := e.Get(claimsContextKey).(*auth.TokenClaims)
	if !ok {
		return ""
	}
	return claims.Wallet
}

func (h *Handler) decodeRequest(e echo.Context, req any) *service.Error {
	if err := e.Bind(req); err != nil {
		return service.NewError(service.ErrorCodeInvalidBody, "invalid request body")
	}

	if err := e.Validate(req); err != nil {
		return service.NewError(service.ErrorCodeInvalidBody, errors.Wrap(err, "request validation failed").Error())
	}
	return nil
}

func (h *Handler) transportError(e echo.Context, err *service.Error) error {
	response := struct {
		Error *service.Error `json:"error"`
	}{Error: err}

	switch err.Code {
	case service.ErrorCodeNotFound:
		return e.JSON(http.StatusNotFound, response)
	case service.ErrorCodeInvalidBody, service.ErrorCodeInvalidAmount:
		return e.JSON(http.StatusBadRequest, response)
	case service.ErrorCodeNotAuthority, service.ErrorCodeNotAssignee:
		return e.JSON(http.StatusForbidden, response)
	case service.ErrorCodeAlreadyInitialized,
		service.ErrorCodeInsufficientFunds,
		service.ErrorCodeInsufficientVaultFunds,
		service.ErrorCodeAuctionClosed,
		service.ErrorCodeAuctionNotEnded,
		service.ErrorCodeBidTooHigh,
		service.ErrorCodeWrongState,
		service.ErrorCodeNoAssignee,
		service.ErrorCodeVerificationFailed:
		return e.JSON(http.StatusConflict, response)
	case service.ErrorCodeOracleUnavailable:
		return e.JSON(http.StatusBadGateway, response)
	default:
		return e.JSON(http.StatusInternalServerError, response)
	}
}
