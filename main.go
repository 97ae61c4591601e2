package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/hydra/internal/config"
	"github.com/any-hub/hydra/internal/head"
	"github.com/any-hub/hydra/internal/logging"
	"github.com/any-hub/hydra/internal/server"
	"github.com/any-hub/hydra/internal/server/routes"
	"github.com/any-hub/hydra/internal/summoner"
	"github.com/any-hub/hydra/internal/version"
)

// configEnv 可覆盖默认配置路径，--config 优先级更高。
const configEnv = "HYDRA_CONFIG"

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
		fmt.Fprintln(stdOut, version.Full())
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

	// 插件在启动阶段全部加载，picker 冲突与描述文件错误在此暴露。
	s, err := summoner.New(cfg.Plugins, summoner.Options{
		RootDir:              cfg.Global.RootDir,
		ExtraPluginLoadPaths: cfg.Global.PluginLoadPaths,
		Logger:               logger,
		Upstream:             head.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue()).Do,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "加载插件失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["plugins"] = cfg.PluginNames()
	fields["picker"] = s.PickerOwner()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()

	if opts.checkOnly {
		fields["action"] = "check_config"
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, s, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// newRootCommand 构建 cobra 根命令，仅负责解析标志，业务逻辑留给 run。
func newRootCommand(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hydra",
		Short:         "hydra is a programmable HTTP test double and reverse proxy",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(*cobra.Command, []string) error { return nil },
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "配置文件路径（默认 ./hydra.toml，可被 "+configEnv+" 覆盖）")
	cmd.Flags().BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置与插件后退出")
	cmd.Flags().BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	return cmd
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	var opts cliOptions
	cmd := newRootCommand(&opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(io.Discard)

	if err := cmd.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	if opts.configPath == "" {
		opts.configPath = os.Getenv(configEnv)
	}
	if opts.configPath == "" {
		opts.configPath = config.DefaultPath
	}
	return opts, nil
}

func startHTTPServer(cfg *config.Config, s *summoner.Summoner, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Summoner:   s,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, s)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
