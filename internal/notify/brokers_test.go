package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-tracking/internal/models"
)

func brokerEvent(kind models.EventKind) models.Event {
	return NewEvent(kind, models.Ride{
		ID:             fmt.Sprintf("broker-%d", time.Now().UnixNano()),
		PassengerID:    "p1",
		DriverID:       "d1",
		Status:         models.StatusArrived,
		DriverLocation: &models.Coordinate{Lat: 39.5495, Lng: -89.2937},
	}, time.Now().UTC())
}

func assertSameEvent(t *testing.T, want models.Event, payload []byte) {
	t.Helper()
	var got models.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.RideID, got.RideID)
	assert.Equal(t, want.DriverID, got.DriverID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Title, got.Title)
	require.NotNil(t, got.DriverLocation)
	assert.Equal(t, *want.DriverLocation, *got.DriverLocation)
}

func TestRedisSinkPublishes(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set; skipping redis-backed sink test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "rides:events:test"
	sub := client.Subscribe(ctx, channel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	e := brokerEvent(models.EventArrived)
	require.NoError(t, NewRedisSink(client, channel).Notify(ctx, e))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, channel, msg.Channel)
		assertSameEvent(t, e, []byte(msg.Payload))
	case <-ctx.Done():
		t.Fatal("no message on the events channel")
	}
}

func TestKafkaSinkPublishesKeyedByRide(t *testing.T) {
	brokers := os.Getenv("KAFKA_TEST_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_TEST_BROKERS not set; skipping kafka-backed sink test")
	}
	addrs := strings.Split(brokers, ",")
	topic := fmt.Sprintf("ride-events-test-%d", time.Now().UnixNano())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sink := NewKafkaSink(addrs, topic)
	sink.writer.AllowAutoTopicCreation = true
	t.Cleanup(func() { _ = sink.Close() })

	e := brokerEvent(models.EventPosition)
	require.NoError(t, sink.Notify(ctx, e))

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: addrs, Topic: topic, Partition: 0, MaxWait: 100 * time.Millisecond})
	t.Cleanup(func() { _ = r.Close() })
	m, err := r.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.RideID, string(m.Key))
	assertSameEvent(t, e, m.Value)
}

func TestNSQSinkPublishes(t *testing.T) {
	addr := os.Getenv("NSQD_TEST_ADDR")
	if addr == "" {
		t.Skip("NSQD_TEST_ADDR not set; skipping nsq-backed sink test")
	}
	topic := fmt.Sprintf("ride-events-test-%d", time.Now().UnixNano())

	got := make(chan []byte, 1)
	consumer, err := nsq.NewConsumer(topic, "test", nsq.NewConfig())
	require.NoError(t, err)
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		select {
		case got <- append([]byte(nil), m.Body...):
		default:
		}
		return nil
	}))
	require.NoError(t, consumer.ConnectToNSQD(addr))
	t.Cleanup(consumer.Stop)

	sink, err := NewNSQSink(addr, topic)
	require.NoError(t, err)
	t.Cleanup(sink.Stop)

	e := brokerEvent(models.EventCompleted)
	require.NoError(t, sink.Notify(context.Background(), e))

	select {
	case body := <-got:
		assertSameEvent(t, e, body)
	case <-time.After(5 * time.Second):
		t.Fatal("no message on the nsq topic")
	}
}

func TestNSQSinkRejectsUnreachableDaemon(t *testing.T) {
	_, err := NewNSQSink("127.0.0.1:1", "ride-events")
	require.Error(t, err)
}
