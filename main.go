package main

import (
	"context"
	"flag"
	"os"

	"MeetChat/global"
	"MeetChat/global/config"
	"MeetChat/logger"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/golang/glog"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("MEETCHAT_CONFIG"), "path to the YAML config file")
	flag.Parse()
	defer glog.Flush()

	glog.Info("meetchat gateway starting")
	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Exitf("load config: %v", err)
	}
	if err := logger.SetLevel(cfg.Server.LogLevel); err != nil {
		glog.Warningf("log level %q: %v", cfg.Server.LogLevel, err)
	}
	log := logger.L("main")

	ctx := context.Background()
	infra, err := global.Boot(ctx, cfg)
	if err != nil {
		log.Fatal("boot infrastructure", zap.Error(err))
	}

	gw, err := newGateway(cfg, infra)
	if err != nil {
		_ = infra.Close(ctx)
		log.Fatal("build gateway", zap.Error(err))
	}
	gw.Start()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.Server.ShutdownTimeout, map[string]gfshutdown.Operation{
		"gateway": func(ctx context.Context) error {
			log.Info("graceful shutdown initiated")
			err := gw.Stop(ctx)
			if cerr := infra.Close(ctx); err == nil {
				err = cerr
			}
			return err
		},
	})
	code := <-wait
	log.Info("gateway exited", zap.Int("code", code))
	logger.Sync()
	os.Exit(code)
}
