package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"confidential-voting-backend/ballot"
	"confidential-voting-backend/models"
	"confidential-voting-backend/service"

	"github.com/gin-gonic/gin"
)

// PollController 处理投票相关API请求
type PollController struct {
	store *service.PollStore
}

// NewPollController 创建投票控制器
func NewPollController(store *service.PollStore) *PollController {
	return &PollController{store: store}
}

// RegisterRoutes 注册API路由
func (c *PollController) RegisterRoutes(api *gin.RouterGroup) {
	polls := api.Group("/polls")
	{
		polls.GET("", c.ListPolls)
		polls.GET("/count", c.CountPolls)
		polls.GET("/:id", c.GetPoll)
		polls.GET("/:id/winner", c.GetWinner)
		polls.GET("/:id/options/:index/votes", c.GetVoteCount)
		polls.GET("/:id/voters/:address", c.HasVoted)

		// 写操作需要调用者身份
		auth := polls.Group("", RequireIdentity())
		auth.POST("", c.CreatePoll)
		auth.DELETE("", c.ClearPolls)
		auth.POST("/:id/vote", c.Vote)
		auth.POST("/:id/end", c.EndPoll)
		auth.DELETE("/:id", c.DeletePoll)
	}
}

// CreatePollRequest 创建投票请求，未提供duration_hours时使用默认时长
type CreatePollRequest struct {
	Title         string   `json:"title"`
	Options       []string `json:"options"`
	DurationHours *int     `json:"duration_hours,omitempty"`
}

// VoteRequest 投票请求，handle和proof为加密选票负载
type VoteRequest struct {
	OptionIndex *int   `json:"option_index"`
	Handle      string `json:"handle"`
	Proof       string `json:"proof"`
}

// PollResponse 投票详情
type PollResponse struct {
	ID                uint64     `json:"id"`
	Title             string     `json:"title"`
	Options           []string   `json:"options"`
	VoteCounts        []int64    `json:"vote_counts"`
	Creator           string     `json:"creator"`
	EndTime           int64      `json:"end_time"`
	IsActive          bool       `json:"is_active"`
	IsCurrentlyActive bool       `json:"is_currently_active"`
	TotalVoters       int64      `json:"total_voters"`
	CreatedAt         time.Time  `json:"created_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	EndedBy           string     `json:"ended_by,omitempty"`
	HasVoted          *bool      `json:"has_voted,omitempty"`
}

// ListPollsResponse 按状态分组的投票列表
type ListPollsResponse struct {
	Active []PollResponse `json:"active"`
	Past   []PollResponse `json:"past"`
}

// ErrorResponse API错误响应
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SuccessResponse API成功响应
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CreatePoll 创建投票
func (c *PollController) CreatePoll(ctx *gin.Context) {
	var req CreatePollRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, "invalid_input", "Invalid request: "+err.Error())
		return
	}

	duration := c.store.DefaultDuration()
	if req.DurationHours != nil {
		duration = *req.DurationHours
	}

	id, err := c.store.CreatePoll(ctx.Request.Context(), Caller(ctx), req.Title, req.Options, duration)
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{"id": id})
}

// ListPolls 获取进行中和已结束的投票
func (c *PollController) ListPolls(ctx *gin.Context) {
	now := c.store.Now()
	active, past, err := c.store.ListPolls(ctx.Request.Context(), now)
	if err != nil {
		writeError(ctx, err)
		return
	}

	resp := ListPollsResponse{
		Active: make([]PollResponse, len(active)),
		Past:   make([]PollResponse, len(past)),
	}
	for i := range active {
		resp.Active[i] = toPollResponse(&active[i], now)
	}
	for i := range past {
		resp.Past[i] = toPollResponse(&past[i], now)
	}
	ctx.JSON(http.StatusOK, resp)
}

// CountPolls 获取已分配的投票ID数量
func (c *PollController) CountPolls(ctx *gin.Context) {
	total, err := c.store.TotalPolls(ctx.Request.Context())
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"total": total})
}

// GetPoll 获取投票详情，携带身份时附带该身份是否已投票
func (c *PollController) GetPoll(ctx *gin.Context) {
	id, ok := pollIDParam(ctx)
	if !ok {
		return
	}

	poll, err := c.store.GetPoll(ctx.Request.Context(), id)
	if err != nil {
		writeError(ctx, err)
		return
	}

	resp := toPollResponse(poll, c.store.Now())
	if caller := Caller(ctx); caller != "" {
		voted, err := c.store.HasVoted(ctx.Request.Context(), id, caller)
		if err != nil {
			writeError(ctx, err)
			return
		}
		resp.HasVoted = &voted
	}
	ctx.JSON(http.StatusOK, resp)
}

// GetWinner 获取获胜选项
func (c *PollController) GetWinner(ctx *gin.Context) {
	id, ok := pollIDParam(ctx)
	if !ok {
		return
	}

	winner, err := c.store.GetWinner(ctx.Request.Context(), id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, winner)
}

// GetVoteCount 获取单个选项的票数
func (c *PollController) GetVoteCount(ctx *gin.Context) {
	id, ok := pollIDParam(ctx)
	if !ok {
		return
	}
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		abortWithError(ctx, http.StatusBadRequest, "invalid_option", "Invalid option index")
		return
	}

	count, err := c.store.GetVoteCount(ctx.Request.Context(), id, index)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"count": count})
}

// HasVoted 查询某个地址是否已投票
func (c *PollController) HasVoted(ctx *gin.Context) {
	id, ok := pollIDParam(ctx)
	if !ok {
		return
	}

	voted, err := c.store.HasVoted(ctx.Request.Context(), id, ctx.Param("address"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"has_voted": voted})
}

// Vote 提交加密选票
func (c *PollController) Vote(ctx *gin.Context) {
	id, ok := pollIDParam(ctx)
	if !ok {
		return
	}

	var req VoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, "invalid_input", "Invalid request: "+err.Error())
		return
	}
	if req.OptionIndex == nil {
		abortWithError(ctx, http.StatusBadRequest, "invalid_input", "option_index is required")
		return
	}

	b := ballot.Ballot{Handle: req.Handle, Proof: req.Proof}
	if err := c.store.Vote(ctx.Request.Context(), Caller(ctx), id, *req.OptionIndex, b); err != nil {
		writeError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Vote submitted successfully"})
}

// EndPoll 提前结束投票
func (c *PollController) EndPoll(ctx *gin.Context) {
	id, ok := pollIDParam(ctx)
	if !ok {
		return
	}

	if err := c.store.EndPoll(ctx.Request.Context(), Caller(ctx), id); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Poll ended"})
}

// DeletePoll 删除投票
func (c *PollController) DeletePoll(ctx *gin.Context) {
	id, ok := pollIDParam(ctx)
	if !ok {
		return
	}

	if err := c.store.DeletePoll(ctx.Request.Context(), Caller(ctx), id); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Poll deleted"})
}

// ClearPolls 清空全部投票，仅管理员
func (c *PollController) ClearPolls(ctx *gin.Context) {
	if err := c.store.ClearAllPolls(ctx.Request.Context(), Caller(ctx)); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "All polls cleared"})
}

func pollIDParam(ctx *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		abortWithError(ctx, http.StatusBadRequest, "invalid_input", "Invalid poll ID")
		return 0, false
	}
	return id, true
}

func toPollResponse(p *models.Poll, now time.Time) PollResponse {
	return PollResponse{
		ID:                p.ID,
		Title:             p.Title,
		Options:           p.OptionTexts(),
		VoteCounts:        p.VoteCounts(),
		Creator:           p.Creator,
		EndTime:           p.EndTime,
		IsActive:          p.IsActive,
		IsCurrentlyActive: p.IsCurrentlyActive(now),
		TotalVoters:       p.TotalVoters,
		CreatedAt:         p.CreatedAt,
		EndedAt:           p.EndedAt,
		EndedBy:           p.EndedBy,
	}
}

// writeError 把业务错误映射为HTTP状态码和错误码
func writeError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPollNotFound):
		abortWithError(ctx, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrForbidden):
		abortWithError(ctx, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, service.ErrAlreadyVoted):
		abortWithError(ctx, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, service.ErrAlreadyEnded):
		abortWithError(ctx, http.StatusConflict, "already_ended", err.Error())
	case errors.Is(err, service.ErrPollClosed):
		abortWithError(ctx, http.StatusConflict, "poll_closed", err.Error())
	case errors.Is(err, service.ErrInvalidOption):
		abortWithError(ctx, http.StatusBadRequest, "invalid_option", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		abortWithError(ctx, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrInvalidBallot):
		abortWithError(ctx, http.StatusUnprocessableEntity, "invalid_ballot", err.Error())
	default:
		log.Printf("请求处理失败: %s %s, 错误: %v", ctx.Request.Method, ctx.FullPath(), err)
		abortWithError(ctx, http.StatusInternalServerError, "internal", "internal server error")
	}
}
