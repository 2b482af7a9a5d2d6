package config

import (
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

var RabbitMQ *amqp.Connection

const (
	rabbitMQMaxRetries = 10
	rabbitMQRetryDelay = 3 * time.Second
)

// RabbitMQURL builds the broker URL from RABBITMQ_* environment variables
func RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		os.Getenv("RABBITMQ_USER"),
		os.Getenv("RABBITMQ_PASSWORD"),
		os.Getenv("RABBITMQ_HOST"),
		os.Getenv("RABBITMQ_PORT"),
	)
}

// InitRabbitMQ connects to RabbitMQ with retry logic
func InitRabbitMQ() {
	conn, err := DialRabbitMQ(RabbitMQURL(), rabbitMQMaxRetries, rabbitMQRetryDelay)
	if err != nil {
		log.Fatal(err)
	}
	RabbitMQ = conn
}

// DialRabbitMQ dials url up to maxRetries times, sleeping retryDelay between
// attempts.
func DialRabbitMQ(url string, maxRetries int, retryDelay time.Duration) (*amqp.Connection, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			log.WithField("host", os.Getenv("RABBITMQ_HOST")).Info("Connected to RabbitMQ")
			return conn, nil
		}

		if i < maxRetries-1 {
			log.WithFields(log.Fields{
				"attempt": i + 1,
				"max":     maxRetries,
				"retry":   retryDelay.String(),
			}).WithError(err).Warn("Failed to connect to RabbitMQ, retrying")
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

// declareQueue declares a durable queue on ch
func declareQueue(ch *amqp.Channel, queueName string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
}
