package dispatch

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"

	// Registered database/sql drivers for the sql queue driver.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/jakedev796/github-notifier/internal"
)

// Queue is the transport between the synchronous accept path and the
// asynchronous delivery worker. The default gochannel driver keeps tasks
// in-process, which is what gives the pipeline its at-most-once semantics;
// broker drivers trade that for durability across restarts.
type Queue struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	shared     bool
	closeFns   []func() error
}

// BuildQueue creates the publisher and subscriber for the configured driver.
// For gochannel both ends are the same instance; the http driver is
// publish-only and leaves Subscriber nil.
func BuildQueue(cfg internal.QueueConfig) (*Queue, error) {
	logger := watermill.NewStdLogger(false, false)

	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = "gochannel"
	}

	switch driver {
	case "gochannel":
		channel := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.GoChannel.OutputChannelBuffer,
			Persistent:          cfg.GoChannel.Persistent,
		}, logger)
		return &Queue{Publisher: channel, Subscriber: channel, shared: true}, nil
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, errors.New("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		pub, err := retryBuild(func() (message.Publisher, error) {
			return wmamqp.NewPublisher(amqpCfg, logger)
		})
		if err != nil {
			return nil, err
		}
		sub, err := wmamqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		return &Queue{Publisher: pub, Subscriber: sub}, nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		pub, err := retryBuild(func() (message.Publisher, error) {
			return wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
		})
		if err != nil {
			return nil, err
		}
		sub, err := wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, nil, wmkafka.DefaultMarshaler{}, logger)
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		return &Queue{Publisher: pub, Subscriber: sub}, nil
	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, errors.New("nats cluster_id and client_id are required")
		}
		pubCfg := wmnats.StreamingPublisherConfig{
			ClusterID: cfg.NATS.ClusterID,
			ClientID:  cfg.NATS.ClientID + "-pub",
			Marshaler: wmnats.GobMarshaler{},
		}
		subCfg := wmnats.StreamingSubscriberConfig{
			ClusterID:   cfg.NATS.ClusterID,
			ClientID:    cfg.NATS.ClientID + "-sub",
			DurableName: cfg.NATS.Durable,
			Unmarshaler: wmnats.GobMarshaler{},
		}
		if cfg.NATS.URL != "" {
			pubCfg.StanOptions = append(pubCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
			subCfg.StanOptions = append(subCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
		}
		pub, err := retryBuild(func() (message.Publisher, error) {
			return wmnats.NewStreamingPublisher(pubCfg, logger)
		})
		if err != nil {
			return nil, err
		}
		sub, err := wmnats.NewStreamingSubscriber(subCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, err
		}
		return &Queue{Publisher: pub, Subscriber: sub}, nil
	case "sql":
		if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
			return nil, errors.New("sql driver and dsn are required")
		}
		schemaAdapter, offsetsAdapter, err := sqlAdapters(cfg.SQL.Dialect)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
			SchemaAdapter:        schemaAdapter,
			AutoInitializeSchema: cfg.SQL.InitializeSchema,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
			ConsumerGroup:    cfg.SQL.ConsumerGroup,
			SchemaAdapter:    schemaAdapter,
			OffsetsAdapter:   offsetsAdapter,
			InitializeSchema: cfg.SQL.InitializeSchema,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &Queue{Publisher: pub, Subscriber: sub, closeFns: []func() error{db.Close}}, nil
	case "http":
		targetMode := strings.ToLower(cfg.HTTP.Mode)
		if targetMode != "topic_url" && targetMode != "base_url" {
			return nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
		}
		if targetMode == "base_url" && cfg.HTTP.BaseURL == "" {
			return nil, errors.New("http base_url is required for base_url mode")
		}
		pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTargetURL(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		// Publish-only: delivery is handled by whatever consumes the posts.
		return &Queue{Publisher: pub}, nil
	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", cfg.Driver)
	}
}

// Close closes both ends of the queue.
func (q *Queue) Close() error {
	var err error
	if q.Publisher != nil {
		err = errors.Join(err, q.Publisher.Close())
	}
	if q.Subscriber != nil && !q.shared {
		err = errors.Join(err, q.Subscriber.Close())
	}
	for _, closeFn := range q.closeFns {
		err = errors.Join(err, closeFn())
	}
	return err
}

func retryBuild(build func() (message.Publisher, error)) (message.Publisher, error) {
	const attempts = 10
	const delay = 2 * time.Second

	var lastErr error
	for i := 0; i < attempts; i++ {
		pub, err := build()
		if err == nil {
			return pub, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, lastErr
}

func amqpConfigFromMode(url, mode string) (wmamqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func sqlAdapters(dialect string) (wmsql.SchemaAdapter, wmsql.OffsetsAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func httpTargetURL(cfg internal.HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		return topic, nil
	case "base_url":
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + topic, nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}
