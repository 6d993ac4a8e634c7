package notification

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"registration-service/internal/models"
)

const (
	KindOTP               = "otp"
	KindEmailVerification = "email_verification"
)

// Message is one outbound delivery. Destination is the plaintext phone
// number or email address; Secret is the OTP code or verification link.
type Message struct {
	Kind        string         `json:"kind"`
	Channel     models.Channel `json:"channel"`
	Destination string         `json:"destination"`
	Secret      string         `json:"secret"`
	Purpose     models.Purpose `json:"purpose,omitempty"`
}

// Notifier delivers messages to downstream systems.
type Notifier interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogNotifier writes deliveries to the logger. Development only: it prints
// the secret.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(_ context.Context, msg Message) error {
	n.logger.Info("notification",
		zap.String("kind", msg.Kind),
		zap.String("channel", string(msg.Channel)),
		zap.String("destination", Mask(msg.Destination)),
		zap.String("secret", msg.Secret))
	return nil
}

// Mask keeps the first two and last two characters of a destination.
func Mask(destination string) string {
	if len(destination) <= 4 {
		return strings.Repeat("*", len(destination))
	}
	return destination[:2] + strings.Repeat("*", len(destination)-4) + destination[len(destination)-2:]
}
