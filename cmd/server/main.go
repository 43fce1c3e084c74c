package main

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/chatblast-backend/internal/config"
	"github.com/unclebandit/chatblast-backend/internal/controller"
	"github.com/unclebandit/chatblast-backend/internal/db"
	"github.com/unclebandit/chatblast-backend/internal/engine"
	"github.com/unclebandit/chatblast-backend/internal/events"
	"github.com/unclebandit/chatblast-backend/internal/handler"
	"github.com/unclebandit/chatblast-backend/internal/logger"
	"github.com/unclebandit/chatblast-backend/internal/personalize"
	"github.com/unclebandit/chatblast-backend/internal/repository"
	"github.com/unclebandit/chatblast-backend/internal/scheduler"
	"github.com/unclebandit/chatblast-backend/internal/service"
	"github.com/unclebandit/chatblast-backend/internal/transport"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.LogLevel, cfg.App.IsDevelopment())

	conn, err := db.Open(cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()
	log.Info().Msg("connected to database")

	campaignRepo := &repository.CampaignRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	connectionRepo := &repository.ConnectionRepository{DB: conn}

	var publisher events.Publisher = events.Nop{}
	if cfg.Broker.URL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.EventsQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("broker connection failed")
		}
		defer amqpPub.Close()
		publisher = amqpPub
		log.Info().Str("queue", cfg.Broker.EventsQueue).Msg("connected to broker")
	}

	runService := &service.RunService{
		Campaigns:    campaignRepo,
		Recipients:   recipientRepo,
		Connections:  connectionRepo,
		Transport:    transport.NewDevTransport(connectionRepo, 0.9),
		Personalizer: personalize.Disabled{},
		Supervisor:   engine.NewSupervisor(log),
		Events:       publisher,
		Clock:        engine.SystemClock(),
		Log:          log,
	}

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		RecipientRepo: recipientRepo,
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(campaignRepo, runService, log)
		if err := sched.Start(); err != nil {
			log.Fatal().Err(err).Msg("scheduler start failed")
		}
		defer sched.Stop()
		log.Info().Msg("scheduled campaign sweep running")
	}

	campaignHandler := &handler.CampaignHandler{Service: campaignService}
	runController := &controller.RunController{Runs: runService}

	r := chi.NewRouter()

	// Campaign CRUD and reads
	r.Post("/campaigns", campaignHandler.CreateCampaignHandler)
	r.Get("/campaigns", campaignHandler.ListCampaignsHandler)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignHandler)
	r.Post("/campaigns/{id}/recipients", campaignHandler.AddRecipientsHandler)
	r.Get("/campaigns/{id}/recipients", campaignHandler.ListRecipientsHandler)
	r.Delete("/campaigns/{id}/recipients/{recipientID}", campaignHandler.DeleteRecipientHandler)
	r.Post("/campaigns/{id}/recipients/{recipientID}/skip", campaignHandler.SkipRecipientHandler)
	r.Post("/campaigns/{id}/recipients/{recipientID}/reset", campaignHandler.ResetRecipientHandler)
	r.Get("/campaigns/{id}/recipients/{recipientID}/preview", campaignHandler.PreviewHandler)

	// Engine actions
	r.Post("/campaigns/{id}/execute", runController.ExecuteCampaign)
	r.Post("/campaigns/{id}/pause", runController.PauseCampaign)
	r.Post("/campaigns/{id}/resume", runController.ResumeCampaign)
	r.Post("/campaigns/{id}/resend-failed", runController.ResendFailed)
	r.Post("/campaigns/{id}/recipients/{recipientID}/resend", runController.ResendRecipient)
	r.Delete("/campaigns/{id}", runController.DeleteCampaign)

	r.Handle("/metrics", promhttp.Handler())

	addr := cfg.Server.Addr()
	log.Info().Str("addr", addr).Msg("server running")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
