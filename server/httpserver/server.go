// Package httpserver is the gantry control plane: the HTTP API, webhook
// intake, the live stream and the scheduler, assembled into one process.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/server/httpserver/auth"
	"github.com/gantryci/gantry/server/httpserver/config"
	"github.com/gantryci/gantry/server/httpserver/controllers"
	"github.com/gantryci/gantry/server/httpserver/dispatch"
	"github.com/gantryci/gantry/server/httpserver/events"
	"github.com/gantryci/gantry/server/httpserver/routes"
	"github.com/gantryci/gantry/server/httpserver/stream"
	"github.com/gantryci/gantry/server/messaging"
	"github.com/gantryci/gantry/server/pkg/redis"
	"github.com/gantryci/gantry/server/storage"
	"github.com/gantryci/gantry/server/storage/logstore"
	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type HttpServer struct {
	Router  *gin.Engine
	Config  *config.Configs
	Version string
}

// Run wires everything and serves until a signal arrives. The actors of
// the group live and die together, so a crashed ingest loop takes the
// whole server down instead of leaving it half alive.
func Run(configFile, version string, overrides func(*config.Configs)) error {
	conf, err := config.Set(configFile)
	if err != nil {
		return err
	}
	if overrides != nil {
		overrides(conf)
		if err := conf.NormalizeAddrs(); err != nil {
			return err
		}
	}
	setZerologLevel(conf.HTTPServer.LogLevel)
	logEntry := logger.InitLogger(conf.HTTPServer.LogLevel, "gantry-server")

	if err := storage.Connect(conf.PostgresURI()); err != nil {
		return err
	}
	if err := storage.Migrate(); err != nil {
		return err
	}
	auth.Init(conf.Auth.HmacSecret, conf.Auth.AdminToken)
	events.Init()

	natsConf := &messaging.NatsSubConfig{
		URL:           conf.Nats.URL,
		Name:          conf.Nats.Name,
		ReconnectWait: conf.ReconnectWait(),
		MaxReconnects: conf.Nats.MaxReconnects,
		Logger:        logEntry,
	}
	nc, err := messaging.NewNatsSub(natsConf).Connect()
	if err != nil {
		return err
	}
	defer nc.Drain()

	dispatcher := dispatch.NewDispatcher(nc, logEntry)
	logs := logstore.NewStore(filepath.Join(conf.HTTPServer.DataDir, "logs"))
	ingest := dispatch.NewIngest(natsConf, logs, logEntry)

	var tail *stream.TailCache
	if conf.Redis.Host != "" {
		rdb, err := redis.New(conf.Redis.Host, conf.Redis.Port, conf.Redis.Password)
		if err != nil {
			log.Warn().Err(err).Msg("redis unreachable, live tail disabled")
		} else {
			tail = stream.NewTailCache(rdb, conf.Stream.TailLines)
		}
	}
	hub := stream.NewHub(tail, logEntry)
	streamSrv := stream.NewServer(conf, hub, logEntry)

	server := &HttpServer{Config: conf, Version: version}
	server.Router = routes.Build(controllers.NewController(&controllers.ControllerConfig{
		Conf:       conf,
		Dispatcher: dispatcher,
		Logs:       logs,
		Version:    version,
		Logger:     logEntry,
	}))

	apiSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.HTTPServer.BindAddr, conf.HTTPServer.Port),
		Handler: server.Router,
	}
	scheduler := NewScheduler(dispatcher, logEntry)

	var group run.Group
	group.Add(func() error {
		log.Info().Str("addr", apiSrv.Addr).Msg("api listening")
		return apiSrv.ListenAndServe()
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("api shutdown")
		}
	})
	group.Add(func() error {
		return streamSrv.ListenAndServe()
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := streamSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("stream shutdown")
		}
	})
	group.Add(func() error {
		hub.Run(events.Get())
		return nil
	}, func(error) {
		hub.Close()
	})
	group.Add(func() error {
		ingest.Start()
		return nil
	}, func(error) {
		ingest.Stop()
	})
	schedStop := make(chan struct{})
	group.Add(func() error {
		scheduler.Run(schedStop)
		return nil
	}, func(error) {
		close(schedStop)
	})
	group.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	err = group.Run()
	if _, ok := err.(run.SignalError); ok {
		log.Warn().Msg("shutting down")
		return nil
	}
	return err
}

func setZerologLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
