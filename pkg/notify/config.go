package notify

import (
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/config"
)

// BuildChannels creates the channels declared in cfg. redisClient may be nil
// when no Redis channel is configured.
func BuildChannels(cfg config.NotificationsConfig, redisClient redis.UniversalClient, httpClient *http.Client, logger *zap.Logger) ([]Channel, error) {
	var channels []Channel

	for _, wh := range cfg.Webhooks {
		ch, err := NewWebhookChannel(wh.Name, wh.URL, wh.Template, httpClient)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	if cfg.RedisChannel != "" {
		if redisClient == nil {
			return nil, errors.New("notifications.redis_channel requires a Redis connection")
		}
		ch, err := NewRedisChannel(redisClient, cfg.RedisChannel, cfg.RedisTemplate)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}

	if cfg.LogChannel {
		channels = append(channels, NewLogChannel(logger))
	}

	return channels, nil
}
