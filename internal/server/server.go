package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/meterwise/meterwise/internal/config"
	coupondomain "github.com/meterwise/meterwise/internal/coupon/domain"
	meteringdomain "github.com/meterwise/meterwise/internal/metering/domain"
	ownerdomain "github.com/meterwise/meterwise/internal/owner/domain"
	paymentdomain "github.com/meterwise/meterwise/internal/payment/domain"
	"github.com/meterwise/meterwise/internal/settlement"
	statementdomain "github.com/meterwise/meterwise/internal/statement/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Params struct {
	fx.In

	Engine       *gin.Engine
	Config       config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	MeteringSvc  meteringdomain.Service
	StatementSvc statementdomain.Generator
	PaymentSvc   paymentdomain.Service
	OwnerSvc     ownerdomain.Directory
	CouponSvc    coupondomain.Store
	Runner       *settlement.Runner
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	meteringSvc  meteringdomain.Service
	statementSvc statementdomain.Generator
	paymentSvc   paymentdomain.Service
	ownerSvc     ownerdomain.Directory
	couponSvc    coupondomain.Store
	runner       *settlement.Runner
}

func NewServer(p Params) *Server {
	s := &Server{
		engine:       p.Engine,
		cfg:          p.Config,
		db:           p.DB,
		log:          p.Log.Named("server"),
		genID:        p.GenID,
		meteringSvc:  p.MeteringSvc,
		statementSvc: p.StatementSvc,
		paymentSvc:   p.PaymentSvc,
		ownerSvc:     p.OwnerSvc,
		couponSvc:    p.CouponSvc,
		runner:       p.Runner,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/metering/run", s.runMetering)
	v1.GET("/usage-records", s.listUsageRecords)

	v1.POST("/statements/generate", s.generateStatements)
	v1.GET("/statements", s.listStatements)
	v1.GET("/statements/:id", s.getStatement)
	v1.POST("/statements/:id/pay", s.payStatement)

	v1.POST("/payments/run", s.runBatchPayment)
	v1.GET("/payments/:id", s.getPayment)

	v1.GET("/accounts/:kind/:id", s.getAccount)
	v1.GET("/coupons", s.listCoupons)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
