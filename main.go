package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cacheproxy/internal/cache"
	"github.com/any-hub/cacheproxy/internal/config"
	"github.com/any-hub/cacheproxy/internal/logging"
	"github.com/any-hub/cacheproxy/internal/relay"
	"github.com/any-hub/cacheproxy/internal/server"
	"github.com/any-hub/cacheproxy/internal/server/routes"
	"github.com/any-hub/cacheproxy/internal/snapshot"
	"github.com/any-hub/cacheproxy/internal/version"
)

// cliOptions 汇总 CLI 标志与位置参数解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	port        int
}

const usage = "usage: cacheproxy [--config FILE] [--check-config] [--version] <port>"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		fmt.Fprintln(stdErr, usage)
		os.Exit(2)
	}

	// 客户端断开导致的 EPIPE 只影响当前连接。
	signal.Ignore(syscall.SIGPIPE)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
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
		fields["max_cache_size"] = cfg.Cache.MaxCacheSize
		fields["max_object_size"] = cfg.Cache.MaxObjectSize
		fields["buckets"] = cfg.Cache.Buckets
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ln, err := server.Listen(opts.port)
	if err != nil {
		fmt.Fprintf(stdErr, "监听端口失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = opts.port
	fields["admin_port"] = cfg.Global.AdminPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	return serve(ctx, cfg, ln, logger)
}

// serve 按“缓存 → 快照恢复 → relay → 诊断服务 → 调度器”顺序装配并阻塞到 ctx 结束，
// 退出时依次保存快照并释放缓存。
func serve(ctx context.Context, cfg *config.Config, ln net.Listener, logger *logrus.Logger) int {
	store, err := cache.New(cfg.CacheOptions())
	if err != nil {
		_ = ln.Close()
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer store.Teardown()

	var snap *snapshot.Store
	if cfg.SnapshotEnabled() {
		snap, err = snapshot.Open(cfg.Global.SnapshotPath)
		if err != nil {
			_ = ln.Close()
			fmt.Fprintf(stdErr, "打开缓存快照失败: %v\n", err)
			return 1
		}
		defer snap.Close()

		loaded, err := snap.Load(ctx, store)
		entry := logger.WithFields(logrus.Fields{"action": "snapshot_load", "path": snap.Path(), "objects": loaded})
		if err != nil {
			entry.WithError(err).Warn("缓存快照恢复失败")
		} else {
			entry.Info("缓存快照已恢复")
		}
	}

	proxy := relay.New(store, relay.Options{
		Logger:      logger,
		UserAgent:   cfg.Global.UserAgent,
		DialTimeout: cfg.Global.UpstreamDialTimeout.DurationValue(),
	})

	dispatcher, err := server.NewDispatcher(server.DispatcherOptions{
		Logger:       logger,
		Handler:      proxy,
		DrainTimeout: cfg.Global.ShutdownTimeout.DurationValue(),
	})
	if err != nil {
		_ = ln.Close()
		fmt.Fprintf(stdErr, "初始化调度器失败: %v\n", err)
		return 1
	}

	if cfg.AdminEnabled() {
		app, err := startAdminServer(cfg, store, logger)
		if err != nil {
			_ = ln.Close()
			fmt.Fprintf(stdErr, "诊断服务启动失败: %v\n", err)
			return 1
		}
		defer func() { _ = app.Shutdown() }()
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   ln.Addr().String(),
	}).Info("代理服务启动")

	if err := dispatcher.Serve(ctx, ln); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("连接未能全部结束")
	}

	if snap != nil {
		saved, err := snap.Save(context.Background(), store)
		entry := logger.WithFields(logrus.Fields{"action": "snapshot_save", "path": snap.Path(), "objects": saved})
		if err != nil {
			entry.WithError(err).Warn("缓存快照保存失败")
		} else {
			entry.Info("缓存快照已保存")
		}
	}

	logger.WithFields(logrus.Fields{
		"action": "shutdown",
		"stats":  store.Stats(),
	}).Info("代理服务退出")
	return 0
}

func startAdminServer(cfg *config.Config, store *cache.Cache, logger *logrus.Logger) (*fiber.App, error) {
	port := cfg.Global.AdminPort
	app, err := server.NewApp(server.AppOptions{
		Logger:    logger,
		AdminPort: port,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterCacheRoutes(app, store)

	// 先同步绑定端口，端口冲突时与代理端口一样以启动失败处理。
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on admin port %d: %w", port, err)
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 诊断服务启动")

	go func() {
		if err := app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			logger.WithError(err).WithField("action", "admin_listen").Error("诊断服务异常退出")
		}
	}()
	return app, nil
}

// parseCLIFlags 解析 CLI 参数，结合环境变量计算配置路径，并读取必填的端口位置参数。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("cacheproxy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 CACHEPROXY_CONFIG 提供，缺省使用内置默认值）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CACHEPROXY_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	opts := cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}
	if showVer || checkOnly {
		return opts, nil
	}

	if fs.NArg() != 1 {
		return cliOptions{}, errors.New("需要且仅需要一个端口参数")
	}
	port, err := strconv.Atoi(fs.Arg(0))
	if err != nil || port <= 0 || port > 65535 {
		return cliOptions{}, fmt.Errorf("无效端口: %s", fs.Arg(0))
	}
	opts.port = port
	return opts, nil
}
