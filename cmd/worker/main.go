package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/unclebandit/chatblast-backend/internal/config"
	"github.com/unclebandit/chatblast-backend/internal/db"
	"github.com/unclebandit/chatblast-backend/internal/logger"
	"github.com/unclebandit/chatblast-backend/internal/model"
	"github.com/unclebandit/chatblast-backend/internal/repository"
)

// DeliveryReceipt is posted by the transport side once a sent message is
// confirmed delivered to the destination.
type DeliveryReceipt struct {
	RecipientID string     `json:"recipient_id"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// ReceiptStore is the slice of the recipient repository the worker needs.
type ReceiptStore interface {
	GetByID(id string) (*model.Recipient, error)
	MarkDelivered(id string, at time.Time) error
}

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

	recipientRepo := &repository.RecipientRepository{DB: conn}

	broker, err := amqp.Dial(cfg.Broker.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connection failed")
	}
	defer broker.Close()

	ch, err := broker.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open a channel")
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		cfg.Broker.ReceiptsQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to declare queue")
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to register consumer")
	}

	log.Info().Str("queue", q.Name).Msg("receipt worker running, waiting for messages")

	for d := range msgs {
		if err := processReceipt(d.Body, recipientRepo, time.Now()); err != nil {
			log.Warn().Err(err).Msg("receipt processing failed")
			// One redelivery attempt; a receipt that fails twice is dropped.
			if !d.Redelivered {
				d.Nack(false, true)
				continue
			}
		}
		d.Ack(false)
	}
}

// processReceipt promotes a sent recipient to delivered. Receipts for
// recipients in any other status (or already removed) are ignored rather
// than retried.
func processReceipt(body []byte, store ReceiptStore, now time.Time) error {
	var receipt DeliveryReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return fmt.Errorf("invalid receipt: %w", err)
	}
	if receipt.RecipientID == "" {
		return fmt.Errorf("receipt missing recipient_id")
	}

	rec, err := store.GetByID(receipt.RecipientID)
	if err != nil {
		return nil
	}
	if rec.Status != model.RecipientSent {
		return nil
	}

	at := now
	if receipt.DeliveredAt != nil {
		at = *receipt.DeliveredAt
	}
	return store.MarkDelivered(rec.ID, at)
}
