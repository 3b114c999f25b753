package router

import (
	"context"
	"crypto/subtle"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"cv-match-go/internal/api/handler"
)

// Handlers 路由依赖的全部接口处理器
type Handlers struct {
	Candidate *handler.CandidateHandler
	Search    *handler.SearchHandler
	Job       *handler.JobHandler
	Match     *handler.MatchHandler
	Chat      *handler.ChatHandler
}

// RegisterRoutes 注册API路由。apiKey非空时启用请求头鉴权，
// 健康检查始终免鉴权。
func RegisterRoutes(h *server.Hertz, handlers *Handlers, apiKey string) {
	h.GET("/api/v1/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if apiKey != "" {
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:X-API-Key", ""),
			keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
			}),
		))
	}

	// 候选人
	api.POST("/candidates/upload", handlers.Candidate.HandleUploadCV)
	api.POST("/candidates/upload/async", handlers.Candidate.HandleUploadCVAsync)
	api.GET("/candidates/search", handlers.Search.HandleSearchCandidates)
	api.GET("/candidates", handlers.Candidate.HandleListCandidates)
	api.GET("/candidates/:candidate_id", handlers.Candidate.HandleGetCandidate)
	api.DELETE("/candidates/:candidate_id", handlers.Candidate.HandleDeleteCandidate)
	api.GET("/candidates/:candidate_id/matches", handlers.Match.HandleListCandidateMatches)

	// 岗位
	api.POST("/jobs", handlers.Job.HandleCreateJob)
	api.GET("/jobs", handlers.Job.HandleListJobs)
	api.GET("/jobs/:job_id", handlers.Job.HandleGetJob)
	api.PUT("/jobs/:job_id", handlers.Job.HandleUpdateJob)
	api.DELETE("/jobs/:job_id", handlers.Job.HandleDeleteJob)
	api.GET("/jobs/:job_id/matches", handlers.Match.HandleListJobMatches)
	api.POST("/jobs/:job_id/matches/evaluate", handlers.Match.HandleRankCandidates)

	// 匹配
	api.POST("/matches/evaluate", handlers.Match.HandleEvaluateMatch)
	api.POST("/matches/batch", handlers.Match.HandleBatchMatch)
	api.POST("/matches/reset", handlers.Job.HandleResetMatches)

	// 对话助手
	api.POST("/chat", handlers.Chat.HandleChat)
	api.GET("/chat/history", handlers.Chat.HandleChatHistory)
	api.DELETE("/chat/history", handlers.Chat.HandleClearChatHistory)
}
