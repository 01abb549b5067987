package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/edgehub/edgehub/internal/cache"
	"github.com/edgehub/edgehub/internal/config"
	"github.com/edgehub/edgehub/internal/ingest"
	"github.com/edgehub/edgehub/internal/logging"
	"github.com/edgehub/edgehub/internal/proxy"
	"github.com/edgehub/edgehub/internal/server"
	"github.com/edgehub/edgehub/internal/server/routes"
	"github.com/edgehub/edgehub/internal/storage"
	"github.com/edgehub/edgehub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["sites"] = len(cfg.Sites)
		fields["profiles"] = config.ProfileSummary(cfg.Sites)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["sites"] = len(cfg.Sites)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["profiles"] = config.ProfileSummary(cfg.Sites)
	fields["durable_backend"] = cfg.Global.DurableBackend
	fields["ephemeral_backend"] = cfg.Global.EphemeralBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.serve(ctx, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务运行失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("edgehub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 EDGEHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("EDGEHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// appRuntime 持有进程生命周期内共享的组件。
type appRuntime struct {
	app        *fiber.App
	supervisor *server.Supervisor
	ephemeral  cache.Tier
	durable    storage.Backend
}

// buildRuntime 按“配置 → 存储层 → 注册表 → 读路径/上传网关 → Fiber”的顺序装配，
// 所有站点共享同一组缓存层与后台任务监督者。
func buildRuntime(cfg *config.Config, logger *logrus.Logger) (*appRuntime, error) {
	g := cfg.Global

	durable, err := storage.Open(g.DurableBackend, filepath.Join(g.StoragePath, "durable"))
	if err != nil {
		return nil, fmt.Errorf("durable store: %w", err)
	}

	ephemeral, err := openEphemeral(g)
	if err != nil {
		durable.Close()
		return nil, fmt.Errorf("ephemeral tier: %w", err)
	}

	rt := &appRuntime{
		supervisor: server.NewSupervisor(logger, g.BackgroundTimeout.DurationValue()),
		ephemeral:  ephemeral,
		durable:    durable,
	}
	if err := rt.wire(cfg, logger); err != nil {
		rt.close(logger)
		return nil, err
	}
	return rt, nil
}

func openEphemeral(g config.GlobalConfig) (cache.Tier, error) {
	if g.EphemeralBackend == "leveldb" {
		return cache.NewLevelTier(filepath.Join(g.StoragePath, "ephemeral"))
	}
	return cache.NewMemoryTier(g.EphemeralMaxEntries, g.EphemeralMaxBytes)
}

func (rt *appRuntime) wire(cfg *config.Config, logger *logrus.Logger) error {
	g := cfg.Global

	registry, err := server.NewSiteRegistry(cfg)
	if err != nil {
		return fmt.Errorf("site registry: %w", err)
	}

	spoolDir := filepath.Join(g.StoragePath, "tmp")
	if err := os.MkdirAll(spoolDir, 0o755); err != nil {
		return fmt.Errorf("spool dir: %w", err)
	}
	engine, err := proxy.NewEngine(proxy.EngineOptions{
		Ephemeral:        rt.ephemeral,
		Tasks:            rt.supervisor,
		Logger:           logger,
		MaxEntrySize:     g.MaxEphemeralEntrySize,
		SpoolMemoryLimit: g.SpoolMemoryLimit,
		SpoolDir:         spoolDir,
	})
	if err != nil {
		return err
	}

	readHandler, err := proxy.NewHandler(proxy.HandlerOptions{
		Engine:   engine,
		Logger:   logger,
		Client:   server.NewUpstreamClient(cfg),
		Registry: registry,
		Durable:  rt.durable,
	})
	if err != nil {
		return err
	}

	ingestHandler, err := ingest.NewHandler(ingest.HandlerOptions{
		Logger:   logger,
		Registry: registry,
		Durable:  rt.durable,
	})
	if err != nil {
		return err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    proxy.NewForwarder(readHandler, ingestHandler, logger),
		ListenPort: g.ListenPort,
		BodyLimit:  int(g.MaxUploadSize),
	})
	if err != nil {
		return err
	}
	routes.RegisterSiteRoutes(app, registry, routes.StatusSources{
		Supervisor: rt.supervisor,
		Ephemeral:  rt.ephemeral,
	})
	rt.app = app
	return nil
}

// serve 监听端口直到 ctx 结束，随后依次关闭 Fiber、等待后台任务、关闭存储层。
func (rt *appRuntime) serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	timeout := cfg.Global.ShutdownTimeout.DurationValue()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		return rt.app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.WithField("action", "shutdown").Info("shutdown_requested")
		if err := rt.app.ShutdownWithTimeout(timeout); err != nil {
			return err
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := rt.supervisor.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("background_tasks_abandoned")
		}
		return nil
	})

	err := group.Wait()
	rt.close(logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (rt *appRuntime) close(logger *logrus.Logger) {
	if rt.ephemeral != nil {
		if err := rt.ephemeral.Close(); err != nil {
			logger.WithError(err).Warn("ephemeral_close_failed")
		}
	}
	if rt.durable != nil {
		if err := rt.durable.Close(); err != nil {
			logger.WithError(err).Warn("durable_close_failed")
		}
	}
}
