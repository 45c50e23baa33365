package email

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MilanSurkos/fakturomat/internal/config"
	"github.com/MilanSurkos/fakturomat/internal/logger"
)

// RedisSender implements the Sender interface by storing emails in Redis.
// Used by the test-support endpoint to let integration tests inspect what
// would have been sent.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{
		client: client,
		cfg:    cfg,
	}
}

// Send stores a representation of the email in Redis instead of sending it via SMTP.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	// Classify the email from its subject so keys stay distinguishable
	// when several mails go to the same recipient.
	actionType := "unknown"
	if strings.Contains(subject, "Overdue") {
		actionType = "invoice_overdue"
	} else if strings.Contains(subject, "Invoice") {
		actionType = "invoice_issued"
	}

	// The mock key uses a single primary recipient; if `to` has multiple
	// addresses the first one wins.
	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	emailData := map[string]interface{}{
		"to":         strings.Join(to, ", "),
		"from":       s.cfg.SmtpFromAddress,
		"subject":    subject,
		"body":       string(rawMessage),
		"sent_at":    time.Now().UTC().Format(time.RFC3339Nano),
		"actionType": actionType,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, actionType)
	ttl := 5 * time.Minute

	err = s.client.Set(ctx, key, jsonData, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	logger.L.Infow("mock email stored in Redis", "key", key, "ttl", ttl, "to", strings.Join(to, ", "), "subject", subject)
	return nil
}
