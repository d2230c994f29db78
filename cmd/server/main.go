package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-tracker-go/internal/api/handler"
	"ai-tracker-go/internal/api/router"
	"ai-tracker-go/internal/config"
	"ai-tracker-go/internal/constants"
	"ai-tracker-go/internal/generation"
	"ai-tracker-go/internal/llm"
	appLogger "ai-tracker-go/internal/logger"
	"ai-tracker-go/internal/parser"
	"ai-tracker-go/internal/scorer"
	"ai-tracker-go/internal/storage"
	"ai-tracker-go/internal/types"
	"ai-tracker-go/pkg/cache"
	"ai-tracker-go/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

const serviceName = "ai-tracker-go"

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OpenTelemetry trace导出
	shutdownTracing := initTracing(ctx, cfg)
	defer shutdownTracing()

	storageManager, err := storage.NewStorage(ctx, cfg, appLogger.Logger)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	rawModel, err := llm.NewOpenAIChatModel(cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.BaseURL, appLogger.Logger)
	if err != nil {
		glog.Fatalf("初始化LLM客户端失败: %v", err)
	}
	glog.Infof("LLM客户端初始化成功，模型: %s", cfg.Provider.Model)

	var chatModel model.ChatModel = rawModel
	if cfg.Provider.QPM > 0 {
		chatModel = ratelimit.NewRateLimitedChatModel(rawModel, cfg.Provider.QPM)
		glog.Infof("provider客户端限流已启用: %d QPM", cfg.Provider.QPM)
	}

	adapter := generation.NewProviderAdapter(chatModel, generation.ProviderOptions{
		Timeout:     cfg.Provider.Timeout(),
		MaxRetries:  cfg.Provider.MaxRetries,
		BackoffBase: cfg.Provider.BackoffBase(),
		BackoffCap:  cfg.Provider.BackoffCap(),
	}, appLogger.Logger)

	// 进程内结果缓存
	resultStore := cache.New(cfg.Cache.MaxEntries)
	if interval := cfg.Cache.SweepInterval(); interval > 0 {
		resultStore.StartSweeper(interval)
	}
	defer resultStore.Close()

	matcher := scorer.New(scorer.Config{
		SkillsWeight:       cfg.Scorer.SkillsWeight,
		ExperienceWeight:   cfg.Scorer.ExperienceWeight,
		EducationWeight:    cfg.Scorer.EducationWeight,
		MaxRecommendations: cfg.Scorer.MaxRecommendations,
	})

	// 可降级的协作方：对应存储组件没起来就传nil
	var docs generation.DocumentStore
	if storageManager.MinIO != nil {
		docs = storageManager.MinIO
	}
	var events generation.EventPublisher
	if storageManager.RabbitMQ != nil {
		events = storageManager.RabbitMQ
	}

	orchestrator := generation.NewOrchestrator(
		generation.NewMemoryResultCache(resultStore),
		adapter,
		generation.NewDefaultRenderer(),
		storage.NewVersionResolver(storageManager.MySQL, storageManager.Redis, appLogger.Logger),
		sessionSaver{storageManager.MySQL},
		docs,
		events,
		matcher,
		generation.Config{
			TTLs:          kindTTLs(cfg),
			FlightTimeout: cfg.Cache.FlightTimeout(),
		},
		appLogger.Logger,
	)
	glog.Info("生成编排器初始化成功")

	pdfExtractor, err := parser.NewPDFTextExtractor(ctx, appLogger.Logger)
	if err != nil {
		glog.Warnf("创建PDF提取器失败，简历导入接口不可用: %v", err)
		pdfExtractor = nil
	}

	generationHandler := handler.NewGenerationHandler(orchestrator, storageManager.MySQL, storageManager.MinIO)
	profileHandler := handler.NewProfileHandler(storageManager.MySQL, orchestrator, pdfExtractor)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, generationHandler, profileHandler)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP服务器启动中，监听地址: %s，引擎版本: %s", cfg.Server.Address, constants.EngineVersion)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

// sessionSaver 把MySQL客户端适配成编排器的会话存储接口
type sessionSaver struct {
	mysql *storage.MySQL
}

func (s sessionSaver) SaveSession(ctx context.Context, session *types.GenerationSession) error {
	return s.mysql.SaveGenerationSession(ctx, session)
}

// kindTTLs 把配置中的字符串键TTL映射转成类型化映射
func kindTTLs(cfg *config.Config) map[types.GenerationKind]time.Duration {
	out := make(map[types.GenerationKind]time.Duration)
	for kind, ttl := range cfg.KindTTLs() {
		out[types.GenerationKind(kind)] = ttl
	}
	return out
}

// initLogger 初始化zerolog全局logger并接管hertz的日志输出
func initLogger(cfg *config.Config) {
	appLogger.Init(appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})

	glog.SetLogger(hertzadapter.From(appLogger.Logger))
}

// initTracing 初始化OpenTelemetry trace导出，未配置端点时返回空关闭函数
func initTracing(ctx context.Context, cfg *config.Config) func() {
	if cfg.Server.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Server.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		glog.Warnf("创建OTLP导出器失败，trace不导出: %v", err)
		return func() {}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(constants.EngineVersion),
		),
	)
	if err != nil {
		glog.Warnf("创建trace resource失败: %v", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	glog.Infof("OpenTelemetry trace导出已启用: %s", cfg.Server.OTLPEndpoint)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			glog.Warnf("关闭TracerProvider失败: %v", err)
		}
	}
}
