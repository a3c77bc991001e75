package main

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"MeetChat/global"
	"MeetChat/global/config"
	"MeetChat/logger"
	"MeetChat/middleware"
	mwsecurity "MeetChat/middleware/security"
	roomapi "MeetChat/module/chat"
	chatservice "MeetChat/module/chat/service"
	"MeetChat/service/chat"
	"MeetChat/service/chat/handlers"
	"MeetChat/service/nacos"
	"MeetChat/service/natsx"
	"MeetChat/tools/ids"
	"MeetChat/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// gateway is one process: the websocket endpoint, the room REST API, the grpc health
// endpoint and, when configured, the NATS relay and the Nacos instance.
type gateway struct {
	cfg      *config.AppConfig
	server   *chat.Server
	http     *http.Server
	grpc     *grpc.Server
	health   *health.Server
	relaySub *nats.Subscription
	instance *nacos.Instance
	log      *zap.Logger
}

func newGateway(cfg *config.AppConfig, in *global.Infra) (*gateway, error) {
	log := logger.L("gateway")
	svc := chatservice.New(chatservice.Options{
		Rooms:     in.Stores.Rooms,
		Messages:  in.Stores.Messages,
		Directory: in.Directory,
		Stamper:   in.Stamper,
		Events:    in.Events,
		Limits: chatservice.Limits{
			MaxRoomsFree: cfg.Limits.MaxRoomsFree,
			HistoryLimit: cfg.Limits.HistoryLimit,
		},
		Logger: logger.L("chat"),
	})

	conns := chat.NewConnManager(cfg.Gateway.ID, chat.ManagerConf{
		SendQueue:    cfg.Gateway.SendQueue,
		PingInterval: cfg.Gateway.PingInterval,
		PongWait:     cfg.Gateway.PongWait,
	})

	gw := &gateway{cfg: cfg, log: log}

	var relay chat.Relay
	if in.NATS != nil {
		r := natsx.NewRelay(in.NATS, cfg.Gateway.RelayPrefix)
		sub, err := r.Serve(cfg.Gateway.ID, conns)
		if err != nil {
			return nil, err
		}
		relay, gw.relaySub = r, sub
	}

	fanout := chat.NewFanout(svc.Rooms(), in.Registry, chat.NewRoutingPusher(conns, relay), chat.FanoutConf{
		Concurrency: cfg.Gateway.FanoutConcurrency,
		PushTimeout: cfg.Gateway.PushTimeout,
	})
	disp := chat.NewDispatcher(
		handlers.NewSendHandler(svc, in.Registry, fanout),
		handlers.NewPingHandler(in.Registry),
		handlers.NewDefaultHandler(),
	)
	gw.server = chat.NewServer(chat.ServerOptions{
		Verifier:       in.Verifier,
		Registry:       in.Registry,
		Conns:          conns,
		Dispatcher:     disp,
		IDs:            ids.NewSnowflake(cfg.Gateway.NodeID),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog())
	mids := middleware.NewManager()
	mids.Add(middleware.Origin(cfg.Server.AllowedOrigins))
	r.Use(mids.Use())

	gw.server.Routes(r)
	gw.server.StatsRoute(r)
	roomapi.NewHandler(svc).Routes(middleware.NewRouter(r, mwsecurity.Middleware(in.Verifier, nil)))
	gw.http = &http.Server{Addr: cfg.Server.Addr, Handler: r}

	if cfg.Server.GrpcAddr != "" {
		gw.grpc = grpc.NewServer()
		gw.health = health.NewServer()
		healthpb.RegisterHealthServer(gw.grpc, gw.health)
	}

	if cfg.Nacos.Enabled {
		if err := gw.announce(); err != nil {
			return nil, err
		}
	}
	return gw, nil
}

// announce registers the instance in Nacos and follows the remote config for log level changes.
func (g *gateway) announce() error {
	if g.cfg.Nacos.Service != "" {
		if err := g.newInstance(); err != nil {
			return err
		}
	}
	cc, err := nacos.NewConfigClient(g.cfg.Nacos)
	if err != nil {
		return err
	}
	return nacos.Watch(cc, g.cfg.Nacos.DataID, g.cfg.Nacos.Group, g.onRemoteConfig)
}

func (g *gateway) newInstance() error {
	naming, err := nacos.NewNamingClient(g.cfg.Nacos)
	if err != nil {
		return err
	}
	_, portStr, err := net.SplitHostPort(g.cfg.Server.Addr)
	if err != nil {
		return errors.Wrapf(err, "server addr %s", g.cfg.Server.Addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "server port %s", portStr)
	}
	g.instance = nacos.NewInstance(naming, g.cfg.Nacos.Service, g.cfg.Nacos.Group, g.cfg.Server.AdvertiseIP, port,
		map[string]string{"gatewayId": g.cfg.Gateway.ID})
	return nil
}

// onRemoteConfig applies the live-reloadable part of a changed Nacos document: the log level.
func (g *gateway) onRemoteConfig(content string) {
	next := *g.cfg
	if err := config.Merge(&next, content); err != nil {
		g.log.Warn("remote config ignored", zap.Error(err))
		return
	}
	if err := logger.SetLevel(next.Server.LogLevel); err != nil {
		g.log.Warn("remote log level ignored", zap.String("level", next.Server.LogLevel), zap.Error(err))
		return
	}
	g.log.Info("log level changed", zap.String("level", next.Server.LogLevel))
}

func (g *gateway) Start() {
	safe.Go("http", func() {
		g.log.Info("http listening", zap.String("addr", g.cfg.Server.Addr))
		if err := g.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Fatal("http server failed", zap.Error(err))
		}
	})
	if g.grpc != nil {
		safe.Go("grpc", func() {
			lis, err := net.Listen("tcp", g.cfg.Server.GrpcAddr)
			if err != nil {
				g.log.Fatal("grpc listen failed", zap.Error(err))
			}
			g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			g.log.Info("grpc health listening", zap.String("addr", g.cfg.Server.GrpcAddr))
			if err := g.grpc.Serve(lis); err != nil {
				g.log.Error("grpc server stopped", zap.Error(err))
			}
		})
	}
	if g.instance != nil {
		if err := g.instance.Register(); err != nil {
			g.log.Warn("nacos register failed", zap.Error(err))
		}
	}
}

// Stop leaves discovery first, then stops accepting, then drops the open sockets.
func (g *gateway) Stop(ctx context.Context) error {
	if g.instance != nil {
		if err := g.instance.Deregister(); err != nil {
			g.log.Warn("nacos deregister failed", zap.Error(err))
		}
	}
	if g.health != nil {
		g.health.Shutdown()
	}
	if g.relaySub != nil {
		_ = g.relaySub.Unsubscribe()
	}
	err := g.http.Shutdown(ctx)
	g.server.Close()
	if g.grpc != nil {
		g.grpc.GracefulStop()
	}
	return err
}
