package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	kad "github.com/dep2p/go-kad"
	"github.com/dep2p/go-kad/config"
	"github.com/dep2p/go-kad/pkg/lib/log"
)

var logger = log.Logger("kad/cmd")

var runFlags struct {
	configFile  string
	listen      string
	dataDir     string
	nodeID      string
	seeds       []string
	metricsAddr string
	logLevel    string
	logJSON     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "启动节点并保持运行，直到收到中断信号",
	RunE:  runNode,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.configFile, "config", "", "配置文件路径（.json 或 .toml）")
	f.StringVar(&runFlags.listen, "listen", "", "UDP 监听地址（覆盖配置）")
	f.StringVar(&runFlags.dataDir, "data-dir", "", "数据目录，启用快照持久化（覆盖配置）")
	f.StringVar(&runFlags.nodeID, "node-id", "", "十六进制节点 ID（覆盖配置）")
	f.StringSliceVar(&runFlags.seeds, "seed", nil, "种子节点 ip:port，可重复")
	f.StringVar(&runFlags.metricsAddr, "metrics", "", "指标 HTTP 监听地址，如 :9100")
	f.StringVar(&runFlags.logLevel, "log-level", "info", "日志级别 (debug/info/warn/error)")
	f.BoolVar(&runFlags.logJSON, "log-json", false, "以 JSON 格式输出日志")
}

// loadConfig 读取配置文件并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg := config.NewConfig()
	if runFlags.configFile != "" {
		loaded, err := config.Load(runFlags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if runFlags.listen != "" {
		cfg.ListenAddr = runFlags.listen
	}
	if runFlags.dataDir != "" {
		cfg.DataDir = runFlags.dataDir
	}
	if runFlags.nodeID != "" {
		cfg.NodeID = runFlags.nodeID
	}
	if len(runFlags.seeds) > 0 {
		cfg.Bootstrap.Seeds = runFlags.seeds
	}
	if runFlags.metricsAddr != "" {
		cfg.MetricsAddr = runFlags.metricsAddr
	}
	return cfg, cfg.Validate()
}

func runNode(cmd *cobra.Command, _ []string) error {
	level, err := log.ParseLevel(runFlags.logLevel)
	if err != nil {
		return err
	}
	format := log.FormatText
	if runFlags.logJSON {
		format = log.FormatJSON
	}
	log.Setup(os.Stderr, level, format)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	node, err := kad.New(kad.WithConfig(cfg), kad.WithRegisterer(reg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		_ = node.Close()
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("关闭节点出错", "error", err)
		}
	}()

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		srv = serveMetrics(cfg.MetricsAddr, reg)
	}

	if len(cfg.Bootstrap.Seeds) > 0 {
		go func() {
			if err := node.BootstrapWithRetry(ctx); err != nil {
				logger.Error("引导失败", "error", err)
				return
			}
			logger.Info("引导完成", "contacts", node.RoutingTableSize(), "size", node.EstimatedSize())
		}()
	}

	logger.Info("节点运行中", "id", node.ID().String(), "addr", node.Addr())
	<-ctx.Done()
	logger.Info("收到退出信号，正在关闭")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标服务退出", "error", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", addr)
	return srv
}
