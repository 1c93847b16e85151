package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/ravelproxy/ravel/internal/admin"
	"github.com/ravelproxy/ravel/internal/config"
	"github.com/ravelproxy/ravel/internal/core/dispatcher"
	"github.com/ravelproxy/ravel/internal/core/domain"
	"github.com/ravelproxy/ravel/internal/core/listener"
	"github.com/ravelproxy/ravel/internal/core/pool"
	"github.com/ravelproxy/ravel/internal/core/router"
	"github.com/ravelproxy/ravel/internal/core/session"
	"github.com/ravelproxy/ravel/internal/core/worker"
	"github.com/ravelproxy/ravel/internal/logger"
	"github.com/ravelproxy/ravel/internal/version"
	"github.com/ravelproxy/ravel/pkg/format"
	"github.com/ravelproxy/ravel/pkg/nerdstats"
)

func main() {
	startTime := time.Now()

	showVersion := flag.Bool("version", false, "print version information and exit")
	showAdmin := flag.Bool("admin", false, "show a live connection-pool dashboard")
	flag.Parse()

	vlog := log.New(log.Writer(), "", 0)
	if *showVersion {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(buildLoggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)
	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	servers := make([]*runningServer, 0, len(cfg.Servers))
	var allDispatchers []*dispatcher.Dispatcher
	var allPools []map[string]*pool.Pool
	for _, sc := range cfg.Servers {
		rs, err := startServer(sc, styledLogger)
		if err != nil {
			logger.FatalWithLogger(logInstance, "Failed to start server", "server", sc.Name, "error", err)
		}
		servers = append(servers, rs)
		allDispatchers = append(allDispatchers, rs.dispatcher...)
		allPools = append(allPools, rs.pools...)
		styledLogger.Info("Listening", "server", sc.Name, "addr", rs.addr, "workers", sc.Workers)
	}

	if *showAdmin {
		collector := admin.NewCollector(allDispatchers, allPools)
		if err := admin.Run(fmt.Sprintf("%s %s", version.Name, version.Version), collector); err != nil {
			styledLogger.Error("Admin dashboard exited with error", "error", err)
		}
		cancel()
	}

	<-ctx.Done()

	for _, rs := range servers {
		rs.stop()
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("Ravel has shutdown")
}

// runningServer bundles the goroutines a single configured server started
// so shutdown can unwind them in order: listener first, then each worker's
// dispatcher.
type runningServer struct {
	addr       string
	ln         *listener.Listener
	dispatcher []*dispatcher.Dispatcher
	pools      []map[string]*pool.Pool
}

func (rs *runningServer) stop() {
	_ = rs.ln.Stop()
	for _, d := range rs.dispatcher {
		d.Stop()
	}
}

// startServer builds the per-server Router, one Dispatcher+Pool-set+Worker
// per configured worker slot, and the round-robin Listener tying them
// together, per spec.md §5's one-dispatcher-per-worker threading model.
func startServer(sc config.ServerConfig, log *logger.StyledLogger) (*runningServer, error) {
	rtr := buildRouter(sc)

	targets := make([]listener.WorkerTarget, 0, sc.Workers)
	dispatchers := make([]*dispatcher.Dispatcher, 0, sc.Workers)
	allPools := make([]map[string]*pool.Pool, 0, sc.Workers)

	defaultReadTimeout := sc.ReadTimeout
	if defaultReadTimeout <= 0 {
		defaultReadTimeout = 30 * time.Second
	}

	for i := 0; i < sc.Workers; i++ {
		disp := dispatcher.New()
		pools := make(map[string]*pool.Pool, len(sc.Upstreams))
		for _, u := range sc.Upstreams {
			if !u.Enabled {
				continue
			}
			origin := u.ToDomainOrigin()
			p := pool.New(origin, disp)
			p.Fill()
			pools[origin.Name] = p
		}

		pendingTimeout := sc.PendingTimeout
		if pendingTimeout <= 0 {
			pendingTimeout = config.DefaultPendingTimeout
		}
		w := worker.New(disp, rtr, pools, sc.MaxPending, pendingTimeout)
		targets = append(targets, listener.WorkerTarget{
			Dispatcher: disp,
			OnAccept: func(conn net.Conn) {
				go session.Handle(w, conn, defaultReadTimeout, log)
			},
			PendingCount: w.PendingCount,
			MaxPending:   sc.MaxPending,
		})
		dispatchers = append(dispatchers, disp)
		allPools = append(allPools, pools)

		go disp.Run()
	}

	addr := net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	l := listener.New(ln, targets, listener.DefaultAdmit)
	go func() {
		if err := l.Serve(); err != nil {
			log.Error("listener stopped", "server", sc.Name, "error", err)
		}
	}()

	return &runningServer{addr: addr, ln: l, dispatcher: dispatchers, pools: allPools}, nil
}

// buildRouter resolves the server's own request/error logger names (falling
// back to config.DefaultReqLogName/DefaultErrLogName when the server left
// them unset) and threads them down through each VHost/Rule so every Rule
// always resolves to some logger name, per rproxy.c's rule->vhost->server
// fallback chain.
func buildRouter(sc config.ServerConfig) *router.Router {
	reqLog := sc.ReqLogName
	if reqLog == "" {
		reqLog = config.DefaultReqLogName
	}
	errLog := sc.ErrLogName
	if errLog == "" {
		errLog = config.DefaultErrLogName
	}

	vhosts := make([]*domain.VHost, 0, len(sc.VHosts))
	for i := range sc.VHosts {
		vhosts = append(vhosts, sc.VHosts[i].ToDomainVHost(reqLog, errLog))
	}
	return router.New(vhosts)
}

func reportProcessStats(logger *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	logger.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	logger.Info("Process Allocation Stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", int64(stats.Mallocs)-int64(stats.Frees),
	)

	if stats.NumGC > 0 {
		logger.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	logger.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	logger.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	if buildInfo := stats.GetBuildInfoSummary(); len(buildInfo) > 0 {
		var buildArgs []any
		for key, value := range buildInfo {
			buildArgs = append(buildArgs, key, value)
		}
		logger.Info("Build Info", buildArgs...)
	}

	logger.Info("Process Health Summary",
		"memory_pressure", stats.GetMemoryPressure(),
		"goroutine_status", stats.GetGoroutineHealthStatus(),
		"uptime", format.Duration(stats.Uptime),
		"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
	)
}

// buildLoggerConfig maps the loaded Config's Logging section onto the
// logger package's own Config shape.
func buildLoggerConfig(cfg *config.Config) *logger.Config {
	return &logger.Config{
		Level:      cfg.Logging.Level,
		FileOutput: cfg.Logging.Output == "file",
		LogDir:     "./logs",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Theme:      "default",
		PrettyLogs: cfg.Logging.Format != "json",
	}
}
