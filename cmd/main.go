package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	hlog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzzerolog "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"cv-match-go/internal/agent"
	"cv-match-go/internal/api/handler"
	"cv-match-go/internal/api/router"
	appconfig "cv-match-go/internal/config"
	"cv-match-go/internal/logger"
	"cv-match-go/internal/parser"
	"cv-match-go/internal/processor"
	"cv-match-go/internal/storage"
	"cv-match-go/internal/tracing"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := appconfig.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}

	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	hlog.SetLogger(hertzzerolog.From(logger.Logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx, cfg.Tracing.Endpoint)
		if err != nil {
			logger.Fatal().Err(err).Msg("初始化链路追踪失败")
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn().Err(err).Msg("关闭链路追踪失败")
			}
		}()
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()

	// LLM与向量化组件
	embedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化Embedder失败")
	}

	textModel, err := agent.NewAliyunQwenChatModel(cfg.Aliyun.APIKey, cfg.Aliyun.Model, cfg.Aliyun.APIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化文本模型失败")
	}
	visionModel, err := agent.NewAliyunQwenChatModel(cfg.Aliyun.APIKey, cfg.Aliyun.VisionModel, cfg.Aliyun.APIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化视觉模型失败")
	}
	// 对话模型单独实例化，工具绑定不影响提取和评估调用
	chatModel, err := agent.NewAliyunQwenChatModel(cfg.Aliyun.APIKey, cfg.Aliyun.Model, cfg.Aliyun.APIURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化对话模型失败")
	}

	cvExtractor := parser.NewCVExtractor(textModel, visionModel)
	matchEvaluator := parser.NewLLMMatchEvaluator(textModel)

	pdfText, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化PDF文本提取器失败")
	}
	pdfImages := parser.NewPDFImageExtractor()

	// 可选组件按配置降级
	var dedupe processor.DedupeStore
	var vecCache processor.QueryVectorCache
	if storageManager.Redis != nil {
		dedupe = storageManager.Redis
		vecCache = storageManager.Redis
	}
	var files processor.FileStore
	if storageManager.MinIO != nil {
		files = storageManager.MinIO
	}

	pipeline := processor.NewPipeline(pdfText, pdfImages, cvExtractor, embedder,
		storageManager.MySQL, dedupe, files)

	searchEngine := processor.NewSearchEngine(processor.NewQueryParser(),
		storageManager.MySQL, embedder, vecCache, cfg.Search.DefaultLimit)

	matcher := processor.NewMatchService(storageManager.MySQL, storageManager.MySQL,
		storageManager.MySQL, matchEvaluator,
		processor.WithCacheTTL(cfg.Match.CacheDuration()),
		processor.WithMaxConcurrent(cfg.Match.MaxConcurrent),
		processor.WithPerJobTimeout(time.Duration(cfg.Match.TimeoutSeconds)*time.Second),
	)

	assistant := processor.NewChatAssistant(chatModel, searchEngine,
		storageManager.MySQL, matcher, storageManager.MySQL)

	handlers := &router.Handlers{
		Candidate: handler.NewCandidateHandler(pipeline, storageManager.MySQL,
			storageManager.MinIO, storageManager.RabbitMQ),
		Search: handler.NewSearchHandler(searchEngine),
		Job:    handler.NewJobHandler(storageManager.MySQL, matcher),
		Match:  handler.NewMatchHandler(matcher, storageManager.MySQL),
		Chat:   handler.NewChatHandler(assistant, storageManager.MySQL),
	}

	// 异步上传消费者
	var stopConsumer chan<- struct{}
	if cfg.RabbitMQ.Enabled && storageManager.RabbitMQ != nil {
		stopConsumer, err = handlers.Candidate.StartUploadConsumer(&cfg.RabbitMQ)
		if err != nil {
			logger.Fatal().Err(err).Msg("启动上传消费者失败")
		}
		logger.Info().Str("queue", cfg.RabbitMQ.UploadQueue).Msg("上传消费者已启动")
	}

	opts := []config.Option{
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	}
	var traceCfg *hertztracing.Config
	if cfg.Tracing.Enabled {
		tracer, tCfg := hertztracing.NewServerTracer()
		opts = append(opts, tracer)
		traceCfg = tCfg
	}

	h := server.New(opts...)
	if traceCfg != nil {
		h.Use(hertztracing.ServerMiddleware(traceCfg))
	}
	router.RegisterRoutes(h, handlers, cfg.Server.APIKey)

	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务启动")
		h.Spin()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("收到终止信号，开始优雅退出")

	if stopConsumer != nil {
		close(stopConsumer)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP服务关闭失败")
	}
	logger.Info().Msg("退出完成")
}
