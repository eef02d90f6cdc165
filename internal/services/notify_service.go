package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/harborgrid/sessiond/pkg/logger"
)

// NotifyService defines the interface for delivering verification codes to
// the principal out-of-band.
type NotifyService interface {
	SendVerificationCode(ctx context.Context, email, code, purpose string) error
}

// AWSSESNotifyService delivers verification codes using AWS SES
type AWSSESNotifyService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESNotifyService creates a new AWS SES notify service
func NewAWSSESNotifyService(region, fromAddress string, logger *slog.Logger) (*AWSSESNotifyService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifyService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendVerificationCode sends a one-time verification code. purpose is a short
// human-readable phrase, e.g. "verify this session" or "trust this device".
func (s *AWSSESNotifyService) SendVerificationCode(ctx context.Context, email, code, purpose string) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .code { font-size: 32px; letter-spacing: 8px; text-align: center; padding: 16px; background-color: #f1f3f5; border-radius: 4px; font-family: monospace; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Your Verification Code</h1>
        </div>
        <p>Use this code to %s:</p>
        <div class="code">%s</div>
        <div class="warning">
            <strong>Security Notice:</strong> If you did not request this code, someone may be attempting to access your account. Do not share this code with anyone.
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, purpose, code)

	textBody := fmt.Sprintf(`Your Verification Code

Use this code to %s:

    %s

Security Notice: If you did not request this code, someone may be attempting to access your account. Do not share this code with anyone.

This is an automated message. Please do not reply to this email.
`, purpose, code)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your verification code"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send verification code via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("verification code sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", *result.MessageId))

	return nil
}

// LogNotifyService is the development fallback when email delivery is
// disabled: codes are written to the log instead of delivered.
type LogNotifyService struct {
	logger *slog.Logger
}

// NewLogNotifyService creates a notify service that only logs
func NewLogNotifyService(logger *slog.Logger) *LogNotifyService {
	return &LogNotifyService{logger: logger}
}

// SendVerificationCode logs the code instead of delivering it.
func (s *LogNotifyService) SendVerificationCode(ctx context.Context, email, code, purpose string) error {
	s.logger.Info("verification code (email delivery disabled)",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("purpose", purpose),
		slog.String("code", code))
	return nil
}
