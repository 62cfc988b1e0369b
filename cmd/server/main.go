package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outreachhq/outreach-backend/internal/config"
	"github.com/outreachhq/outreach-backend/internal/db"
	"github.com/outreachhq/outreach-backend/internal/handler"
	"github.com/outreachhq/outreach-backend/internal/logger"
	"github.com/outreachhq/outreach-backend/internal/queue"
	"github.com/outreachhq/outreach-backend/internal/repository"
	"github.com/outreachhq/outreach-backend/internal/service"
	"github.com/outreachhq/outreach-backend/internal/webhook"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.App.Environment, cfg.App.LogLevel)

	conn, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	publisher, err := queue.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.QueueName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer publisher.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	leadRepo := &repository.LeadRepository{DB: conn}
	queueRepo := &repository.QueueRepository{DB: conn}
	auditRepo := &repository.AuditRepository{DB: conn}

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		LeadRepo:     leadRepo,
		QueueRepo:    queueRepo,
		Queue:        publisher,
		Logger:       log,
	}
	reconciler := &service.ReconcileService{
		CampaignRepo: campaignRepo,
		LeadRepo:     leadRepo,
		AuditRepo:    auditRepo,
		Logger:       log,
		LookbackDays: cfg.Webhook.LookbackDays,
	}

	campaignHandler := &handler.CampaignHandler{Service: campaignService, Logger: log}
	webhookHandler := &webhook.Handler{Reconciler: reconciler, Secret: cfg.Webhook.Secret, Logger: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/campaigns", campaignHandler.CreateCampaign)
	r.Get("/campaigns", campaignHandler.ListCampaigns)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaign)
	r.Post("/campaigns/{id}/leads", campaignHandler.AddLeads)
	r.Post("/campaigns/{id}/dispatch", campaignHandler.Dispatch)
	r.Post("/campaigns/{id}/preview", campaignHandler.Preview)
	r.Post("/webhooks/provider", webhookHandler.HandleProviderEvent)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	log.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
