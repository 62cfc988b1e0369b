package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/streadway/amqp"

	"github.com/outreachhq/outreach-backend/internal/config"
	"github.com/outreachhq/outreach-backend/internal/db"
	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
	"github.com/outreachhq/outreach-backend/internal/logger"
	"github.com/outreachhq/outreach-backend/internal/provider"
	"github.com/outreachhq/outreach-backend/internal/queue"
	"github.com/outreachhq/outreach-backend/internal/repository"
	"github.com/outreachhq/outreach-backend/internal/service"
)

const maxDeliveryRetries = 3

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

	campaignRepo := &repository.CampaignRepository{DB: conn}
	leadRepo := &repository.LeadRepository{DB: conn}
	queueRepo := &repository.QueueRepository{DB: conn}
	usageRepo := &repository.UsageRepository{DB: conn}
	planRepo := &repository.PlanRepository{DB: conn}
	creditRepo := &repository.CreditRepository{DB: conn}

	client := provider.NewClient(&cfg.Provider, log)
	dispatcher := &service.DispatchService{
		CampaignRepo: campaignRepo,
		LeadRepo:     leadRepo,
		QueueRepo:    queueRepo,
		Quota: &service.QuotaService{
			UsageRepo:           usageRepo,
			PlanRepo:            planRepo,
			Logger:              log,
			DefaultDailyLimit:   cfg.Dispatch.DefaultDailyLimit,
			DefaultMonthlyLimit: cfg.Dispatch.DefaultMonthlyLimit,
		},
		Credits:   &service.CreditService{CreditRepo: creditRepo, Logger: log},
		Messenger: provider.NewMessenger(client),
		Config:    cfg.Dispatch,
		Logger:    log,
	}

	amqpConn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer amqpConn.Close()

	ch, err := amqpConn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open channel")
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(cfg.AMQP.QueueName, true, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to declare queue")
	}

	// One job at a time: a dispatch run is intentionally sequential, and
	// prefetching more would only hold jobs hostage during pacing sleeps.
	if err := ch.Qos(1, 0, false); err != nil {
		log.Fatal().Err(err).Msg("failed to set QoS")
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register consumer")
	}

	log.Info().Str("queue", q.Name).Msg("worker running, waiting for dispatch jobs")
	for d := range msgs {
		var job queue.DispatchJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			log.Warn().Err(err).Msg("discarding invalid dispatch job")
			d.Ack(false)
			continue
		}

		result, err := dispatcher.Run(ctx, job.CampaignID)
		if err != nil {
			retries := queue.RetryCount(d.Headers)
			switch {
			case isPermanent(err):
				log.Warn().Err(err).Int("campaign_id", job.CampaignID).
					Msg("dropping dispatch job that can never succeed")
			case retries < maxDeliveryRetries:
				// Requeueing the original delivery keeps its old headers,
				// so retries are counted by republishing a bumped copy.
				if pubErr := ch.Publish("", q.Name, false, false, queue.RetryPublishing(d)); pubErr != nil {
					log.Error().Err(pubErr).Int("campaign_id", job.CampaignID).Msg("failed to republish dispatch job")
					d.Nack(false, true)
					continue
				}
				log.Error().Err(err).Int("campaign_id", job.CampaignID).Int("retries", retries+1).
					Msg("dispatch run failed, job requeued")
			default:
				log.Error().Err(err).Int("campaign_id", job.CampaignID).
					Msg("dispatch job exhausted its delivery retries")
			}
		} else {
			log.Info().
				Int("campaign_id", result.CampaignID).
				Int("sent", result.Sent).
				Str("final_status", result.FinalStatus).
				Msg("dispatch job done")
		}
		d.Ack(false)
	}
}

// isPermanent reports failures a redelivery cannot fix.
func isPermanent(err error) bool {
	var invalidState *appErrors.ErrInvalidCampaignState
	var notFound *appErrors.ErrCampaignNotFound
	var unsupported *appErrors.ErrUnsupportedChannel
	return errors.As(err, &invalidState) || errors.As(err, &notFound) || errors.As(err, &unsupported)
}
