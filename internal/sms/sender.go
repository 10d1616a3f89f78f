package sms

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Sender dispatches one-time codes to a phone number.
type Sender interface {
	Send(ctx context.Context, phoneNumber, code string) error
}

// SNSSender delivers codes through AWS SNS transactional SMS. A send is
// not idempotent, so a transient failure gets exactly one short-backoff
// retry with jitter before the caller is told it failed.
type SNSSender struct {
	snsClient *sns.Client
	senderID  string
	logger    *slog.Logger
}

func NewSNSSender(region, senderID string, logger *slog.Logger) (*SNSSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SNSSender{
		snsClient: sns.NewFromConfig(cfg),
		senderID:  senderID,
		logger:    logger,
	}, nil
}

func (s *SNSSender) Send(ctx context.Context, phoneNumber, code string) error {
	err := s.publish(ctx, phoneNumber, code)
	if err == nil {
		return nil
	}

	select {
	case <-time.After(300*time.Millisecond + jitter(300*time.Millisecond)):
	case <-ctx.Done():
		return fmt.Errorf("sms dispatch failed: %w", err)
	}

	if err := s.publish(ctx, phoneNumber, code); err != nil {
		return fmt.Errorf("sms dispatch failed after retry: %w", err)
	}
	return nil
}

func (s *SNSSender) publish(ctx context.Context, phoneNumber, code string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(s.senderID),
		}
	}

	_, err := s.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(phoneNumber),
		Message:           aws.String(fmt.Sprintf("%s is your verification code. It expires in 5 minutes.", code)),
		MessageAttributes: attrs,
	})
	return err
}

// LogSender writes codes to the log instead of dispatching them.
// Development only.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, phoneNumber, code string) error {
	s.Logger.Info("sms code (dev sender)",
		slog.String("phone", phoneNumber),
		slog.String("code", code))
	return nil
}

func jitter(max time.Duration) time.Duration {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(buf[:]) % uint64(max))
}
