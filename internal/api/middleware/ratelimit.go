package middleware

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/atiamdev/cms-backend-sub002/internal/config"
	"github.com/atiamdev/cms-backend-sub002/internal/services"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	rate     int
	burst    int
	lastSeen time.Time
}

// RateLimiterMiddleware keeps one token bucket per client. Bucket size and
// refill rate come from runtime settings, falling back to the env values.
type RateLimiterMiddleware struct {
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	cfg           *config.Config
	configService services.IConfigService
	idleTTL       time.Duration
}

func NewRateLimiterMiddleware(cfg *config.Config, configService services.IConfigService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:       make(map[string]*clientLimiter),
		cfg:           cfg,
		configService: configService,
		idleTTL:       30 * time.Minute,
	}
	go rm.cleanupClients()
	return rm
}

// clientIdentifier keys authenticated callers by user and anonymous ones by IP.
func clientIdentifier(c *gin.Context) string {
	if userID := c.GetString(ContextKeyUserID); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

func (rm *RateLimiterMiddleware) getClientLimiter(identifier string, refill, burst int) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	cl, exists := rm.clients[identifier]
	if !exists || cl.rate != refill || cl.burst != burst {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(refill), burst),
			rate:    refill,
			burst:   burst,
		}
		rm.clients[identifier] = cl
	}
	cl.lastSeen = time.Now()
	return cl
}

func (rm *RateLimiterMiddleware) cleanupClients() {
	for {
		time.Sleep(10 * time.Minute)
		if n := rm.evictIdle(time.Now()); n > 0 {
			log.Printf("Rate limiter cleanup removed %d old client entries.", n)
		}
	}
}

func (rm *RateLimiterMiddleware) evictIdle(now time.Time) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	count := 0
	for id, cl := range rm.clients {
		if now.Sub(cl.lastSeen) > rm.idleTTL {
			delete(rm.clients, id)
			count++
		}
	}
	return count
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		refill := rm.configService.GetInt(ctx, services.SettingRateLimitRefillRate, rm.cfg.RateLimitRefillRate)
		burst := rm.configService.GetInt(ctx, services.SettingRateLimitBucketSize, rm.cfg.RateLimitBucketSize)

		clientKey := clientIdentifier(c)
		cl := rm.getClientLimiter(clientKey, refill, burst)
		if !cl.limiter.Allow() {
			log.Printf("Rate limit exceeded for client: %s on %s %s", clientKey, c.Request.Method, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}
