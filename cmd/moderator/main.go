package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/sayra/lingomatch/internal/config"
	"github.com/sayra/lingomatch/internal/logging"
	"github.com/sayra/lingomatch/internal/messaging"
	"github.com/sayra/lingomatch/internal/report"
)

// The moderator archives filed reports from NATS into Postgres so moderators
// can review conversations after the in-memory room is gone.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info")
		fallback.Fatal().Err(err).Msg("configuration error")
	}

	log := logging.New(cfg.LogLevel).With().Str("service", "moderator").Logger()

	if cfg.ReportDSN == "" {
		log.Fatal().Msg("REPORT_DSN is required")
	}
	if cfg.NATSURL == "" {
		log.Fatal().Msg("NATS_URL is required")
	}

	db, err := sql.Open("postgres", cfg.ReportDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open failed")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("postgres unreachable")
	}
	cancel()

	if err := report.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("schema up to date")

	store := report.NewStore(db)

	natsConfig := messaging.DefaultNATSConfig(cfg.NATSURL)
	natsConfig.Name = "lingomatch-moderator"
	natsClient, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats unavailable")
	}
	defer natsClient.Close()

	err = natsClient.SubscribeReportFiled(func(data []byte) {
		var rec report.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Warn().Err(err).Msg("bad report event")
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Create(ctx, &rec); err != nil {
			log.Error().Err(err).Str("room", rec.RoomID).Msg("archive failed")
			return
		}
		log.Info().
			Str("room", rec.RoomID).
			Str("reported", rec.ReportedClientID).
			Int("count", rec.ReportCount).
			Msg("report archived")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("subscribe failed")
	}

	log.Info().Msg("moderator running")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	log.Info().Msg("shutting down")
}
