package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smukkama/weather-client/internal/apperrors"
)

// Well-known keys shared by every client instance
const (
	KeyAPIKey       = "weather_client:api_key"
	KeyLastRecordID = "weather_client:last_record_id"

	changeChannel = "weather_client:changes"

	minAPIKeyLength = 16
	watchBuffer     = 16
)

// Change is a notification that a shared value was written. Origin
// identifies the instance that performed the write.
type Change struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Origin string `json:"origin"`
}

// Store persists the user's API key and last-submitted record id in Redis and
// notifies watchers when either changes. Writes from other client instances
// arrive over pub/sub; the instance's own writes are fed to its watchers
// directly, since the pub/sub path filters them out by origin. Both paths
// converge on the same Watch stream.
type Store struct {
	redis  *redis.Client
	origin string
	log    *logrus.Entry

	mu       sync.Mutex
	watchers []chan Change
	pubsub   *redis.PubSub
}

// New creates a store backed by the given Redis client. Each store gets a
// unique origin id so it can tell its own writes apart from other instances'.
func New(redisClient *redis.Client, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		redis:  redisClient,
		origin: uuid.NewString(),
		log:    logger.WithField("component", "localstore"),
	}
}

// Start subscribes to change notifications from other instances
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		return nil
	}

	pubsub := s.redis.Subscribe(ctx, changeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to change notifications: %w", err)
	}

	s.pubsub = pubsub
	go s.listen(pubsub)
	return nil
}

// Close stops the change subscription
func (s *Store) Close() error {
	s.mu.Lock()
	pubsub := s.pubsub
	s.pubsub = nil
	s.mu.Unlock()

	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}

// Watch returns a stream of change notifications. Slow consumers have
// changes dropped rather than blocking the store; last write wins.
func (s *Store) Watch() <-chan Change {
	ch := make(chan Change, watchBuffer)
	s.mu.Lock()
	s.watchers = append(s.watchers, ch)
	s.mu.Unlock()
	return ch
}

// APIKey returns the stored API key, or an empty string if none was saved
func (s *Store) APIKey(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAPIKey)
}

// SetAPIKey validates and stores the API key
func (s *Store) SetAPIKey(ctx context.Context, key string) error {
	if err := ValidateAPIKey(key); err != nil {
		return err
	}
	return s.set(ctx, KeyAPIKey, key)
}

// LastRecordID returns the last-submitted record id, or an empty string if
// none was saved
func (s *Store) LastRecordID(ctx context.Context) (string, error) {
	return s.get(ctx, KeyLastRecordID)
}

// SetLastRecordID stores the last-submitted record id
func (s *Store) SetLastRecordID(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.InvalidInput("record id is required")
	}
	return s.set(ctx, KeyLastRecordID, id)
}

// ValidateAPIKey applies a superficial format check; the key is otherwise
// opaque and only the backend can tell whether it is usable.
func ValidateAPIKey(key string) error {
	if key == "" {
		return apperrors.InvalidInput("api key is required")
	}
	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return apperrors.InvalidInput("api key must not contain whitespace")
	}
	if len(key) < minAPIKeyLength {
		return apperrors.InvalidInput("api key looks too short")
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	value, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key, value string) error {
	if err := s.redis.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	change := Change{Key: key, Value: value, Origin: s.origin}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode change notification: %w", err)
	}
	if err := s.redis.Publish(ctx, changeChannel, payload).Err(); err != nil {
		// The write itself succeeded; other instances just won't hear about it
		s.log.WithError(err).Warn("Failed to publish change notification")
	}

	// The pub/sub listener skips our own origin, so notify local watchers here
	s.notify(change)
	return nil
}

// listen forwards change notifications from other instances to watchers
func (s *Store) listen(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			s.log.WithError(err).Warn("Dropping malformed change notification")
			continue
		}
		if change.Origin == s.origin {
			continue
		}
		s.notify(change)
	}
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	watchers := make([]chan Change, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		select {
		case w <- change:
		default:
			s.log.WithField("key", change.Key).Warn("Watcher not keeping up, dropping change")
		}
	}
}
