// Package stream pushes shop rating updates to websocket clients. With
// redis configured every event goes through a pub/sub channel so clients
// connected to any instance receive it.
package stream

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const EventRatingUpdated = "rating.updated"

type Event struct {
	Type    string `json:"type"`
	ShopID  int64  `json:"shop_id"`
	Payload any    `json:"data,omitempty"`
}

type Hub struct {
	redis   *redis.Client
	clients map[int64]map[*Client]struct{}
	mu      sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	ShopID int64
	Send   chan []byte
}

// NewHub subscribes to the rating channels before returning. If the
// subscription cannot be confirmed the hub runs in local-only mode.
func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		clients: map[int64]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}
	if redisClient == nil {
		close(h.done)
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	pubsub := redisClient.PSubscribe(ctx, channelPattern)
	confirmCtx, confirmCancel := context.WithTimeout(ctx, 2*time.Second)
	_, err := pubsub.Receive(confirmCtx)
	confirmCancel()
	if err != nil {
		log.Printf("stream: redis subscribe failed, delivering locally only: %v", err)
		_ = pubsub.Close()
		cancel()
		close(h.done)
		return h
	}

	h.redis = redisClient
	h.cancel = cancel
	go h.subscribeRedis(ctx, pubsub)
	return h
}

func (h *Hub) Register(shopID int64) *Client {
	client := &Client{
		ShopID: shopID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[shopID] == nil {
		h.clients[shopID] = map[*Client]struct{}{}
	}
	h.clients[shopID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if shopClients, ok := h.clients[client.ShopID]; ok {
		if _, registered := shopClients[client]; !registered {
			return
		}
		delete(shopClients, client)
		if len(shopClients) == 0 {
			delete(h.clients, client.ShopID)
		}
		close(client.Send)
	}
}

// Publish sends ev to every client watching ev.ShopID. Slow clients drop
// messages rather than block the writer.
func (h *Hub) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("stream: marshal event: %v", err)
		return
	}

	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(ev.ShopID), payload).Err()
		if err == nil {
			return
		}
		log.Printf("stream: redis publish error: %v", err)
	}
	h.deliver(ev.ShopID, payload)
}

func (h *Hub) deliver(shopID int64, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[shopID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			shopID, ok := shopIDFromChannel(msg.Channel)
			if !ok {
				continue
			}
			h.deliver(shopID, []byte(msg.Payload))
		}
	}
}

// Close stops the redis subscriber.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

const channelPattern = "shops:*:ratings"

func redisChannel(shopID int64) string {
	return "shops:" + strconv.FormatInt(shopID, 10) + ":ratings"
}

// shopIDFromChannel parses shops:{id}:ratings.
func shopIDFromChannel(ch string) (int64, bool) {
	rest, ok := strings.CutPrefix(ch, "shops:")
	if !ok {
		return 0, false
	}
	idPart, ok := strings.CutSuffix(rest, ":ratings")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	return id, err == nil
}
