// Package redis stores sessions and tokens in Redis as JSON documents.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	sessionPrefix = "mirror:session:"
	tokenPrefix   = "mirror:token:"
)

// Options configures the connection and key expiry. A zero SessionTTL keeps keys forever.
type Options struct {
	Addr       string
	Password   string
	DB         int
	SessionTTL time.Duration
}

type Store struct {
	client *goredis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

var _ ports.Store = (*Store)(nil)

// NewStore connects and pings the server.
func NewStore(ctx context.Context, opts Options, log logrus.FieldLogger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	log = log.WithField("component", "redis")
	log.Infof("Connecting to Redis at %s...", opts.Addr)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	log.Info("Successfully connected to Redis")

	return &Store{client: client, ttl: opts.SessionTTL, log: log}, nil
}

func (s *Store) Load(ctx context.Context, id string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, sessionPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.NewSession(id), nil
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("redis: load session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		// Unreadable documents are replaced by an empty session.
		s.log.WithError(err).WithField("session_id", id).Warn("discarding unreadable session")
		return domain.NewSession(id), nil
	}
	sess.ID = id
	return sess, nil
}

func (s *Store) Save(ctx context.Context, sess domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("redis: encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionPrefix+sess.ID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save session: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, sessionID string) (domain.Token, error) {
	raw, err := s.client.Get(ctx, tokenPrefix+sessionID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Token{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Token{}, fmt.Errorf("redis: load token: %w", err)
	}

	var tok domain.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return domain.Token{}, fmt.Errorf("redis: decode token: %w", err)
	}
	return tok, nil
}

func (s *Store) SaveToken(ctx context.Context, sessionID string, tok domain.Token) error {
	if tok.RefreshToken == "" {
		if prev, err := s.GetToken(ctx, sessionID); err == nil {
			tok.RefreshToken = prev.RefreshToken
		}
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("redis: encode token: %w", err)
	}
	if err := s.client.Set(ctx, tokenPrefix+sessionID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save token: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
