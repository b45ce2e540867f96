package svc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"perparb/internal/application/port"
	"perparb/internal/application/service"
	"perparb/internal/application/usecase/monitor"
	"perparb/internal/domain/model"
	domainservice "perparb/internal/domain/service"
	"perparb/internal/infrastructure/config"
	"perparb/internal/infrastructure/connector"
	"perparb/internal/infrastructure/marketdata"
	"perparb/internal/infrastructure/metrics"
	"perparb/internal/infrastructure/stats"
	"perparb/internal/infrastructure/storage/composite"
	pgrepo "perparb/internal/infrastructure/storage/postgres"
	redisrepo "perparb/internal/infrastructure/storage/redis"
	sqliterepo "perparb/internal/infrastructure/storage/sqlite"
	"perparb/internal/interfaces/console"
	"perparb/internal/interfaces/httpapi"
)

const (
	publishTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	Store   *marketdata.Store
	Stats   *stats.Collector
	Metrics *metrics.Metrics // nil when disabled
	Repo    port.Repository  // nil when no storage is enabled

	// 输出端口
	Sink port.Sink

	// 应用业务组件（依赖基础设施）
	Connectors *connector.Manager
	Engine     *service.AggregationEngine
	Health     *service.HealthReporter
	Monitor    *monitor.Service
	HTTP       *fiber.App // nil when disabled

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Sink:        console.NewSink(),
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化所有组件
func (sc *ServiceContext) initializeComponents() error {
	cfg := sc.Config

	if cfg.Metrics.Enabled {
		sc.Metrics = metrics.New(cfg.Metrics.Namespace)
	}
	var observer stats.Observer
	if sc.Metrics != nil {
		observer = sc.Metrics
	}
	sc.Stats = stats.NewCollector(observer)
	sc.Store = marketdata.NewStore()

	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	deps := connector.Deps{Store: sc.Store, Stats: sc.Stats, Repo: sc.Repo}
	if sc.Metrics != nil {
		deps.States = sc.Metrics
	}
	conns, err := connector.NewManager(cfg, deps)
	if err != nil {
		return err
	}
	sc.Connectors = conns

	priceGrouping, _ := domainservice.ParseGrouping(cfg.Aggregation.PriceGrouping)
	fundingGrouping, _ := domainservice.ParseGrouping(cfg.Aggregation.FundingGrouping)
	calc := domainservice.NewCalculator(cfg.Symbols.PrimaryQuote, priceGrouping, fundingGrouping)
	sc.Engine = service.NewAggregationEngine(sc.Store, calc, cfg.AggregationInterval())
	if sc.Metrics != nil {
		sc.Engine.SetObserver(sc.Metrics)
	}

	sc.Monitor = monitor.NewService(monitor.ServiceDeps{
		Sink:          sc.Sink,
		PrintEveryMin: cfg.App.PrintEveryMin,
		TopN:          cfg.App.TopN,
		Threshold:     cfg.App.HighlightSpreadPct,
		Live:          cfg.App.Live,
	})
	sc.Engine.AddPublisher(sc.Monitor)
	if sc.Repo != nil {
		sc.Engine.AddPublisher(port.PublisherFunc(sc.persistOpportunities))
	}

	sc.Health = service.NewHealthReporter(sc.Stats, sc.Connectors, sc.Connectors.Exchanges(),
		time.Duration(cfg.App.SummaryIntervalSec)*time.Second)

	if cfg.HTTP.Enabled {
		deps := httpapi.Deps{Opportunities: sc.Engine, Status: sc.Connectors, Funding: sc.Store}
		if sc.Metrics != nil {
			deps.Metrics = sc.Metrics.Handler()
		}
		sc.HTTP = httpapi.New(deps, httpapi.Options{
			ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
			WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
		})
	}

	log.Info().
		Strs("exchanges", sc.Connectors.Exchanges()).
		Bool("storage", sc.Repo != nil).
		Bool("metrics", sc.Metrics != nil).
		Bool("http", sc.HTTP != nil).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化存储层 (Redis / SQLite / Postgres)，全部可选
func (sc *ServiceContext) initializeStorage() error {
	st := sc.Config.Storage
	var repos []port.Repository

	if st.Redis.Enabled {
		ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
		defer cancel()
		r, err := redisrepo.Dial(ctx, st.Redis.Addr, st.Redis.Password, st.Redis.DB, st.Redis.Prefix,
			time.Duration(st.Redis.TTLSeconds)*time.Second)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		repos = append(repos, r)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing redis connection")
			return r.Close()
		})
		log.Info().Str("addr", st.Redis.Addr).Int("db", st.Redis.DB).Msg("✓ Redis initialized")
	}

	if st.SQLite.Enabled {
		r, err := sqliterepo.New(st.SQLite.Path)
		if err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
		repos = append(repos, r)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing sqlite connection")
			return r.Close()
		})
		log.Info().Str("path", st.SQLite.Path).Msg("✓ SQLite initialized")
	}

	if st.Postgres.Enabled {
		r, err := pgrepo.New(st.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
		repos = append(repos, r)
		sc.closerChain = append(sc.closerChain, func() error {
			log.Info().Msg("closing postgres connection")
			return r.Close()
		})
		log.Info().Msg("✓ Postgres initialized")
	}

	switch len(repos) {
	case 0:
	case 1:
		sc.Repo = repos[0]
	default:
		// closers above already own each backend
		sc.Repo = composite.New(repos...)
	}
	return nil
}

func (sc *ServiceContext) persistOpportunities(res *model.Result) {
	ctx, cancel := context.WithTimeout(sc.Ctx, publishTimeout)
	defer cancel()
	if err := sc.Repo.PublishOpportunities(ctx, res); err != nil {
		log.Warn().Err(err).Str("cycle", res.CycleID).Msg("persist opportunities failed")
	}
}

// Run 启动所有后台任务，直到 ctx 结束或 HTTP 服务异常退出
func (sc *ServiceContext) Run(ctx context.Context) error {
	sc.Connectors.WarmStart(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sc.Connectors.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sc.Engine.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sc.Health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := sc.Monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if sc.HTTP != nil {
		g.Go(func() error {
			<-gctx.Done()
			return sc.HTTP.ShutdownWithTimeout(shutdownTimeout)
		})
		g.Go(func() error {
			log.Info().Str("addr", sc.Config.HTTP.Addr).Msg("starting http server")
			if err := sc.HTTP.Listen(sc.Config.HTTP.Addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
				return fmt.Errorf("%w: %w", ErrHTTPServer, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Close 按照相反的顺序关闭所有资源，应该在应用退出时调用
func (sc *ServiceContext) Close() error {
	var errs []error
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
			errs = append(errs, err)
		}
	}
	sc.closerChain = nil
	return errors.Join(errs...)
}
