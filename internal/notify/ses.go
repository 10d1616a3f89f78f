package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// UserFetcher resolves a user id to the record holding the email address.
type UserFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// SESSender delivers security notifications by email through AWS SES.
type SESSender struct {
	sesClient   *ses.Client
	users       UserFetcher
	fromAddress string
	logger      *slog.Logger
}

func NewSESSender(region, fromAddress string, users UserFetcher, logger *slog.Logger) (*SESSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESSender{
		sesClient:   ses.NewFromConfig(cfg),
		users:       users,
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (s *SESSender) Send(ctx context.Context, userID string, event Event, meta map[string]string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to resolve notification recipient: %w", err)
	}

	subject, body := renderNotification(event, meta)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}

	s.logger.Info("security notification sent",
		slog.String("user_id", userID),
		slog.String("event", string(event)))
	return nil
}

func renderNotification(event Event, meta map[string]string) (string, string) {
	switch event {
	case EventAccountLocked:
		return "Your account has been temporarily locked",
			fmt.Sprintf("Too many failed sign-in attempts. The account is locked until %s. "+
				"If this was not you, reset your password once the lock expires.", meta["locked_until"])
	case EventAnomalousLogin:
		return "New sign-in to your account",
			fmt.Sprintf("We noticed a sign-in from %s (%s). If this was you, no action is needed. "+
				"If not, secure your account immediately.", meta["location"], meta["ip"])
	default:
		return "Security alert for your account",
			"We noticed unusual activity on your account. If this was not you, secure your account."
	}
}
