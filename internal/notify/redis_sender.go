package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const mockNotificationTTL = 5 * time.Minute

// RedisSender stores messages in Redis instead of delivering them, so
// end-to-end tests can read them back through the service API.
type RedisSender struct {
	client *redis.Client
}

func NewRedisSender(client *redis.Client) Sender {
	return &RedisSender{client: client}
}

// MockNotificationKey is the Redis key the last message for (channel, to) is kept under.
func MockNotificationKey(channel Channel, to string) string {
	return fmt.Sprintf("mocknotification:%s:%s", channel, to)
}

func (s *RedisSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(map[string]string{
		"channel":    string(msg.Channel),
		"to":         msg.To,
		"student_id": msg.StudentID,
		"subject":    msg.Subject,
		"body":       msg.Body,
		"sent_at":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	key := MockNotificationKey(msg.Channel, msg.To)
	if err := s.client.Set(ctx, key, data, mockNotificationTTL).Err(); err != nil {
		return fmt.Errorf("failed to store notification in Redis key '%s': %w", key, err)
	}
	log.Printf("Mock notification stored in Redis key '%s' (TTL: %v)", key, mockNotificationTTL)
	return nil
}
