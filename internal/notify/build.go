package notify

import (
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/atiamdev/cms-backend-sub002/internal/config"
)

// NewSenderFromConfig assembles the sender chain used by the worker and the
// CLI. With MOCK_SERVICES every message lands in Redis; otherwise email goes
// over SMTP and the other channels are logged. LOG_NOTIFICATIONS adds a file
// copy of everything.
func NewSenderFromConfig(cfg *config.Config, rdb *redis.Client) Sender {
	var primary Sender
	if cfg.MockServices && rdb != nil {
		log.Println("MOCK_SERVICES enabled: using Redis notification sender.")
		primary = NewRedisSender(rdb)
	} else {
		primary = NewChannelRouter(&LoggingSender{}).Route(ChannelEmail, NewSMTPSender(cfg))
	}

	composite := NewCompositeSender(primary)
	if cfg.LogNotificationsPath != "" {
		fileSender, err := NewFileSender(cfg.LogNotificationsPath)
		if err != nil {
			log.Printf("WARNING: failed to initialize file notification sender (LOG_NOTIFICATIONS='%s'): %v", cfg.LogNotificationsPath, err)
		} else {
			composite.AddSender(fileSender)
			log.Printf("LOG_NOTIFICATIONS set to '%s', enabling file notification logger.", cfg.LogNotificationsPath)
		}
	}
	return composite
}
