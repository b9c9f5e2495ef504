package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sayra/lingomatch/internal/admin"
	"github.com/sayra/lingomatch/internal/banstore"
	"github.com/sayra/lingomatch/internal/config"
	"github.com/sayra/lingomatch/internal/engine"
	"github.com/sayra/lingomatch/internal/logging"
	"github.com/sayra/lingomatch/internal/messaging"
	"github.com/sayra/lingomatch/internal/protocol"
	"github.com/sayra/lingomatch/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info")
		fallback.Fatal().Err(err).Msg("configuration error")
	}

	log := logging.New(cfg.LogLevel)
	log.Info().
		Str("listen_addr", cfg.ListenAddr).
		Int("worker_pool", cfg.WorkerPoolSize).
		Int("max_connections", cfg.MaxConnections).
		Msg("starting matchmaking server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Transport and engine wire each other through the dispatcher.
	dispatcher := ws.NewMessageDispatcher(log)
	server := ws.NewServer(ws.ServerConfig{
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, log, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	eng := engine.New(engine.Config{
		RateLimitMax:     cfg.RateLimitMax,
		RateLimitWindow:  cfg.RateLimitWindow,
		JoinCooldown:     cfg.JoinCooldown,
		TypingThrottle:   cfg.TypingThrottle,
		HistoryLimit:     cfg.HistoryLimit,
		ReportsToMute:    cfg.ReportsToMute,
		AutoMuteDuration: cfg.AutoMute,
	}, server, log)

	server.SetOnConnect(eng.Connect)
	server.SetOnDisconnect(eng.Disconnect)

	// Optional Redis-backed ban persistence.
	if cfg.RedisAddr != "" {
		store, err := banstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("ban store unavailable")
		}
		defer store.Close()

		restored, err := eng.Moderation().AttachPersister(ctx, store, log)
		if err != nil {
			log.Fatal().Err(err).Msg("ban restore failed")
		}
		log.Info().Int("restored", restored).Msg("ban persistence enabled")
	}

	// Optional NATS report archival.
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsClient, err = messaging.NewNATSClient(messaging.DefaultNATSConfig(cfg.NATSURL), log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats unavailable")
		}
		defer natsClient.Close()

		eng.SetReportSink(func(ev engine.ReportEvent) {
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("report event marshal failed")
				return
			}
			if err := natsClient.PublishReportFiled(data); err != nil {
				log.Warn().Err(err).Msg("report publish failed")
			}
		})
		log.Info().Msg("report archival enabled")
	}

	registerHandlers(dispatcher, eng)

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("transport start failed")
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", server.Handler())
	admin.New(eng, cfg.AdminToken, server.Uptime, log).Register(mux)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	if err := server.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("transport shutdown error")
	}
	os.Exit(0)
}

// registerHandlers binds every inbound event type to its engine operation.
func registerHandlers(d *ws.MessageDispatcher, eng *engine.Engine) {
	d.Register(protocol.TypeHello, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.HelloMsg)
		if !ok {
			return
		}
		eng.Hello(conn.ID, m.ClientID)
	})

	d.Register(protocol.TypeFindPartner, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.FindPartnerMsg)
		if !ok {
			return
		}
		eng.FindPartner(conn.ID, m.ClientID, m.Name, m.Level, m.Gender)
	})

	d.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		eng.SendMessage(conn.ID, m.Text)
	})

	d.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		eng.Typing(conn.ID, m.On)
	})

	d.Register(protocol.TypeReadUpTo, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ReadUpToMsg)
		if !ok {
			return
		}
		eng.ReadUpTo(conn.ID, m.MsgID)
	})

	d.Register(protocol.TypeReportPartner, func(conn *ws.Connection, msg interface{}) {
		eng.Report(conn.ID)
	})

	d.Register(protocol.TypeLeaveChat, func(conn *ws.Connection, msg interface{}) {
		eng.LeaveChat(conn.ID)
	})

	d.Register(protocol.TypeGetHistory, func(conn *ws.Connection, msg interface{}) {
		eng.History(conn.ID)
	})

	d.Register(protocol.TypeIceNext, func(conn *ws.Connection, msg interface{}) {
		eng.IceNav(conn.ID, +1)
	})

	d.Register(protocol.TypeIcePrev, func(conn *ws.Connection, msg interface{}) {
		eng.IceNav(conn.ID, -1)
	})

	for _, kind := range []string{protocol.TypeVoiceOffer, protocol.TypeVoiceAnswer, protocol.TypeVoiceIce} {
		kind := kind
		d.Register(kind, func(conn *ws.Connection, msg interface{}) {
			m, ok := msg.(protocol.VoiceMsg)
			if !ok {
				return
			}
			eng.VoiceRelay(conn.ID, kind, m.Payload)
		})
	}
}
