package mq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"confidential-voting-backend/config"
	"confidential-voting-backend/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisQueue_PublishPop(t *testing.T) {
	client := newTestRedis(t)
	queue := NewRedisQueue(client, "")
	ctx := context.Background()

	at := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	first := models.PollEvent{MessageID: "m1", Type: models.EventPollCreated, PollID: 3, Caller: "0xabc", At: at}
	second := models.PollEvent{MessageID: "m2", Type: models.EventVoteCast, PollID: 3, Caller: "0xdef", At: at}
	require.NoError(t, queue.Publish(ctx, first))
	require.NoError(t, queue.Publish(ctx, second))

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// 先进先出
	got, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "m1", got.MessageID)
	assert.Equal(t, models.EventPollCreated, got.Type)
	assert.True(t, at.Equal(got.At))

	got, err = queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "m2", got.MessageID)
}

func TestRedisQueue_Consume(t *testing.T) {
	client := newTestRedis(t)
	queue := NewRedisQueue(client, "events")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan models.PollEvent, 2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(ctx, func(e models.PollEvent) error {
			received <- e
			if e.MessageID == "bad" {
				return errors.New("handler failed")
			}
			return nil
		})
	}()

	require.NoError(t, queue.Publish(context.Background(), models.PollEvent{MessageID: "bad", Type: models.EventPollEnded}))
	require.NoError(t, queue.Publish(context.Background(), models.PollEvent{MessageID: "ok", Type: models.EventPollDeleted}))

	for _, want := range []string{"bad", "ok"} {
		select {
		case e := <-received:
			assert.Equal(t, want, e.MessageID)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

type fakeSender struct {
	mu       sync.Mutex
	messages []*primitive.Message
	status   primitive.SendStatus
	err      error
	closed   bool
}

func (s *fakeSender) SendSync(_ context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.messages = append(s.messages, msgs...)
	return &primitive.SendResult{Status: s.status}, nil
}

func (s *fakeSender) Shutdown() error {
	s.closed = true
	return nil
}

func TestRocketProducer_Publish(t *testing.T) {
	sender := &fakeSender{status: primitive.SendOK}
	p := newRocketProducer(sender, "poll_events")

	event := models.PollEvent{MessageID: "m1", Type: models.EventVoteCast, PollID: 7}
	require.NoError(t, p.Publish(context.Background(), event))

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, "poll_events", msg.Topic)
	assert.Equal(t, string(models.EventVoteCast), msg.GetTags())
	assert.Equal(t, "m1", msg.GetKeys())
	assert.Contains(t, string(msg.Body), `"poll_id":7`)

	require.NoError(t, p.Close())
	assert.True(t, sender.closed)
}

func TestRocketProducer_PublishFailure(t *testing.T) {
	p := newRocketProducer(&fakeSender{err: errors.New("broker down")}, "poll_events")
	assert.Error(t, p.Publish(context.Background(), models.PollEvent{Type: models.EventPollEnded}))

	p = newRocketProducer(&fakeSender{status: primitive.SendFlushDiskTimeout}, "poll_events")
	assert.Error(t, p.Publish(context.Background(), models.PollEvent{Type: models.EventPollEnded}))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.PollEvent
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, e models.PollEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("unavailable")}
	ok := &recordingPublisher{}
	f := NewFanout(failing, nil, ok)

	f.Notify(context.Background(), models.PollEvent{Type: models.EventPollCreated, PollID: 1})

	// Close 会先发送完队列中的事件
	require.NoError(t, f.Close())
	require.Len(t, ok.events, 1, "a failing publisher must not stop the others")
	require.Len(t, failing.events, 1)
	assert.NotEmpty(t, ok.events[0].MessageID)
	assert.Equal(t, ok.events[0].MessageID, failing.events[0].MessageID)
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)

	// 关闭后的事件被丢弃
	f.Notify(context.Background(), models.PollEvent{Type: models.EventVoteCast, PollID: 1})
	assert.Len(t, ok.events, 1)
	assert.NoError(t, f.Close())
}

func TestFanout_PreservesOrder(t *testing.T) {
	rec := &recordingPublisher{}
	f := NewFanout(rec)

	for i := uint64(0); i < 100; i++ {
		f.Notify(context.Background(), models.PollEvent{Type: models.EventVoteCast, PollID: i})
	}
	require.NoError(t, f.Close())

	require.Len(t, rec.events, 100)
	for i, e := range rec.events {
		assert.Equal(t, uint64(i), e.PollID)
	}
}

type blockingPublisher struct {
	release chan struct{}
	recordingPublisher
}

func (p *blockingPublisher) Publish(ctx context.Context, e models.PollEvent) error {
	<-p.release
	return p.recordingPublisher.Publish(ctx, e)
}

func TestFanout_NotifyDoesNotWaitForPublishers(t *testing.T) {
	slow := &blockingPublisher{release: make(chan struct{})}
	f := NewFanout(slow)

	done := make(chan struct{})
	go func() {
		f.Notify(context.Background(), models.PollEvent{Type: models.EventPollCreated, PollID: 7})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow publisher")
	}

	close(slow.release)
	require.NoError(t, f.Close())
	require.Len(t, slow.events, 1)
}

func TestFanout_CanceledRequestContext(t *testing.T) {
	client := newTestRedis(t)
	queue := NewRedisQueue(client, "")
	f := NewFanout(queue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Notify(ctx, models.PollEvent{Type: models.EventPollDeleted, PollID: 2})
	require.NoError(t, f.Close())

	n, err := queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(&config.Config{MQBackend: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewPublisher(&config.Config{MQBackend: "redis"}, nil)
	assert.Error(t, err)

	p, err = NewPublisher(&config.Config{MQBackend: "redis"}, newTestRedis(t))
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, p)

	_, err = NewPublisher(&config.Config{MQBackend: "kafka"}, nil)
	assert.Error(t, err)
}
