package broker

import (
	"context"
	"fmt"
	"sync"

	"xpsocial/pkg/envelope"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	NotificationsChannel = "xpsocial:notifications"
	ActionNotification   = "notification"
)

type HandlerFunc func(envelope.Envelope)

// Broker relays envelopes between server instances over Redis pub/sub.
type Broker struct {
	rdb      *redis.Client
	ctx      context.Context
	cancel   context.CancelFunc
	handlers sync.Map
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// New uses rdb for publishing and subscribing. The client stays owned by the caller.
func New(rdb *redis.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
		log:    logging.For("broker"),
	}
}

func (b *Broker) Publish(ctx context.Context, channel string, env envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, data).Err()
}

// Subscribe starts a reader for channels that dispatches each envelope to the
// handler registered for its action.
func (b *Broker) Subscribe(channels ...string) {
	sub := b.rdb.Subscribe(b.ctx, channels...)
	ch := sub.Channel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-b.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(msg.Payload)
			}
		}
	}()
}

func (b *Broker) dispatch(payload string) {
	env, err := envelope.Unmarshal([]byte(payload))
	if err != nil {
		b.log.WithError(err).Debug("dropping undecodable message")
		return
	}
	if fn, ok := b.handlers.Load(env.Action); ok {
		fn.(HandlerFunc)(env)
	}
}

func (b *Broker) On(action string, fn HandlerFunc) {
	b.handlers.Store(action, fn)
}

func (b *Broker) Broadcast(ctx context.Context, channel, action, service string, data any) error {
	env, err := envelope.NewEvent(action, service, data)
	if err != nil {
		return err
	}
	return b.Publish(ctx, channel, env)
}

// Notify publishes n so whichever instance holds the recipient's connections
// delivers it.
func (b *Broker) Notify(ctx context.Context, n models.Notification) error {
	env, err := envelope.NewEvent(ActionNotification, "social", n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	env.UserID = n.RecipientID
	if err := b.Publish(ctx, NotificationsChannel, env); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close stops the subscription readers.
func (b *Broker) Close() {
	b.cancel()
	b.wg.Wait()
}
