// The scheduler is the external trigger the dispatch engine relies on: it
// periodically finds campaigns whose scheduled time or queue entries are due
// and enqueues a dispatch job for each. The engine itself never self-wakes.
package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/outreachhq/outreach-backend/internal/config"
	"github.com/outreachhq/outreach-backend/internal/db"
	"github.com/outreachhq/outreach-backend/internal/logger"
	"github.com/outreachhq/outreach-backend/internal/queue"
	"github.com/outreachhq/outreach-backend/internal/repository"
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
	queueRepo := &repository.QueueRepository{DB: conn}

	tick := func() {
		now := time.Now()
		enqueued := map[int]bool{}

		due, err := campaignRepo.ListDue(ctx, now)
		if err != nil {
			log.Error().Err(err).Msg("failed to list due campaigns")
		} else {
			for _, c := range due {
				if err := publisher.PublishDispatch(c.ID); err != nil {
					log.Error().Err(err).Int("campaign_id", c.ID).Msg("failed to enqueue dispatch job")
					continue
				}
				enqueued[c.ID] = true
			}
		}

		entries, err := queueRepo.ListDue(ctx, now)
		if err != nil {
			log.Error().Err(err).Msg("failed to list due queue entries")
		} else {
			for _, e := range entries {
				if enqueued[e.CampaignID] {
					continue
				}
				if err := publisher.PublishDispatch(e.CampaignID); err != nil {
					log.Error().Err(err).Int("campaign_id", e.CampaignID).Msg("failed to enqueue dispatch job")
					continue
				}
				enqueued[e.CampaignID] = true
			}
		}

		if len(enqueued) > 0 {
			log.Info().Int("campaigns", len(enqueued)).Msg("enqueued due dispatch jobs")
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Scheduler.CronSpec, tick); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Scheduler.CronSpec).Msg("invalid cron spec")
	}

	log.Info().Str("spec", cfg.Scheduler.CronSpec).Msg("scheduler running")
	c.Run()
}
