package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/config"
	"github.com/meteo-pwa/meteo-hub/internal/logging"
	"github.com/meteo-pwa/meteo-hub/internal/proxy"
	"github.com/meteo-pwa/meteo-hub/internal/server"
	"github.com/meteo-pwa/meteo-hub/internal/server/routes"
	"github.com/meteo-pwa/meteo-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	lookupCity  string
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
		fields["cache_version"] = cfg.Worker.CacheVersion
		fields["assets"] = len(cfg.Worker.Assets)
		fields["storage_backend"] = cfg.Global.StorageBackend
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存存储 → worker 宿主与页面 → 注册 worker → Fiber server。
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行时失败: %v\n", err)
		return 1
	}
	defer rt.Close()

	ctx := context.Background()
	rt.start(ctx)

	if opts.lookupCity != "" {
		return runLookup(ctx, rt, opts.lookupCity)
	}

	if err := rt.watchConfig(opts.configPath); err != nil {
		logger.WithError(err).WithFields(logging.BaseFields("watch_config", opts.configPath)).Warn("config_watch_failed")
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["domain"] = cfg.Global.Domain
	fields["cache_version"] = cfg.Worker.CacheVersion
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, rt, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// runLookup 查询一次天气并以 JSON 输出结果。
func runLookup(ctx context.Context, rt *hubRuntime, city string) int {
	result, err := rt.weather.Lookup(ctx, city)
	if err != nil {
		fmt.Fprintf(stdErr, "查询天气失败: %v\n", err)
		return 1
	}
	encoder := json.NewEncoder(stdOut)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(stdErr, "输出结果失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("meteo-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		lookup     string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 METEO_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&lookup, "lookup", "", "查询一次城市天气后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("METEO_HUB_CONFIG")
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
		lookupCity:  lookup,
	}, nil
}

func startHTTPServer(cfg *config.Config, rt *hubRuntime, logger *logrus.Logger) error {
	app, err := buildApp(cfg, rt, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// buildApp 组装 Fiber 应用：Host 路由经页面客户端转发，诊断接口挂在 /-/ 下。
func buildApp(cfg *config.Config, rt *hubRuntime, logger *logrus.Logger) (*fiber.App, error) {
	table, err := server.NewRouteTable(cfg)
	if err != nil {
		return nil, err
	}

	forwarder, err := proxy.NewPageForwarder(rt.page, logger)
	if err != nil {
		return nil, err
	}
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Routes:     table,
		Proxy:      forwarder,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterStatusRoutes(app, rt.host, rt.store, table)
	routes.RegisterMetricsRoutes(app)
	routes.RegisterMessageRoutes(app, rt.page, logger)
	routes.RegisterLookupRoutes(app, rt.weather)
	return app, nil
}
