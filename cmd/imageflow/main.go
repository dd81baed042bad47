// =============================================================================
// ImageFlow 命令行入口
// =============================================================================
// 一次性生图命令，便于在接入对话端之前验证服务商配置
//
// 使用方法:
//
//	imageflow generate --prompt "一只看报纸的小熊猫"       # 用默认服务商生图
//	imageflow generate --provider doubao --prompt "..."   # 指定服务商
//	imageflow generate --ref ./cat.png --prompt "改成蓝色" # 带参考图
//	imageflow providers                                   # 列出已注册服务商
//	imageflow version                                     # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/imageflow"
	"github.com/BaSui01/imageflow/config"
	"github.com/BaSui01/imageflow/imagegen"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "providers":
		runProviders(os.Args[2:])
	case "version":
		fmt.Printf("imageflow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `用法: imageflow <command> [flags]

命令:
  generate    提交一次生图请求并等待结果
  providers   列出已注册的服务商适配器
  version     显示版本信息`)
}

// =============================================================================
// 🎨 generate 子命令
// =============================================================================

// stdoutDelivery 把后台生成结果送回命令行：成功打印文件路径，
// 失败打印分类后的用户提示。
type stdoutDelivery struct {
	done chan imagegen.Payload
}

func (d *stdoutDelivery) Deliver(_ context.Context, _ imagegen.Destination, payload imagegen.Payload) error {
	d.done <- payload
	return nil
}

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	provider := fs.String("provider", "", "服务商标识，空则用配置的默认值")
	prompt := fs.String("prompt", "", "生图提示词")
	model := fs.String("model", "", "模型名，空则用服务商默认")
	resolution := fs.String("resolution", "", "分辨率: 1K/2K/4K 或 WxH")
	aspectRatio := fs.String("aspect-ratio", "", "长宽比，如 16:9")
	refs := fs.String("ref", "", "参考图（逗号分隔的路径或 URL）")
	timeout := fs.Duration("timeout", 5*time.Minute, "等待结果的超时时间")
	_ = fs.Parse(args)

	if strings.TrimSpace(*prompt) == "" {
		fmt.Fprintln(os.Stderr, "缺少 --prompt")
		os.Exit(1)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	delivery := &stdoutDelivery{done: make(chan imagegen.Payload, 1)}
	engine, err := imageflow.New(cfg, delivery, imageflow.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}

	req := &imagegen.GenerationRequest{
		Provider:    *provider,
		Prompt:      *prompt,
		Model:       *model,
		Resolution:  *resolution,
		AspectRatio: *aspectRatio,
	}
	if pc, ok := cfg.Providers[imagegen.Normalize(firstNonEmpty(*provider, cfg.DefaultProvider))]; ok {
		req.APIKey = pc.APIKey
	}
	for _, ref := range strings.Split(*refs, ",") {
		if ref = strings.TrimSpace(ref); ref != "" {
			req.ReferenceImages = append(req.ReferenceImages, ref)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ack, err := engine.Generate(ctx, "cli", req, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "提交失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("已受理 %s（服务商 %s，本窗口剩余 %d 次），生成中...\n",
		ack.RequestID, ack.Provider, ack.Remaining)

	select {
	case payload := <-delivery.done:
		printPayload(payload)
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "已取消，后台任务会继续完成")
	case <-time.After(*timeout):
		fmt.Fprintln(os.Stderr, "等待结果超时")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = engine.Close(closeCtx)
}

func printPayload(payload imagegen.Payload) {
	if payload.Failed {
		fmt.Println(payload.Text)
		os.Exit(1)
	}
	if payload.Text != "" {
		fmt.Println(payload.Text)
	}
	for _, path := range payload.ImagePaths {
		fmt.Printf("已保存: %s\n", path)
	}
	for _, url := range payload.ImageURLs {
		fmt.Printf("图像链接: %s\n", url)
	}
}

// =============================================================================
// 📋 providers 子命令
// =============================================================================

func runProviders(args []string) {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "配置文件路径")
	_ = fs.Parse(args)

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	delivery := &stdoutDelivery{done: make(chan imagegen.Payload, 1)}
	engine, err := imageflow.New(cfg, delivery)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = engine.Close(ctx)
	}()

	for _, name := range engine.Providers() {
		marker := "  "
		if name == imagegen.Normalize(cfg.DefaultProvider) {
			marker = "* "
		}
		fmt.Printf("%s%s\n", marker, name)
	}
}

// =============================================================================
// 🔧 工具函数
// =============================================================================

func buildLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
