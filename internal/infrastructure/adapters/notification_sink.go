package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/coinpilot/coinpilot-core/internal/domain/entities"
)

// OwnerDirectory resolves an owner's contact email
type OwnerDirectory interface {
	GetEmail(ctx context.Context, ownerID uuid.UUID) (string, error)
}

// NotificationConfig represents notification delivery configuration
type NotificationConfig struct {
	Provider  string // "sendgrid" or empty for log-only delivery
	APIKey    string
	FromEmail string
	FromName  string
}

// NotificationSink delivers plan lifecycle events by email. Without a
// configured provider it degrades to structured log lines, which keeps
// development environments free of outbound mail.
type NotificationSink struct {
	config    NotificationConfig
	client    *sendgrid.Client
	directory OwnerDirectory
	logger    *zap.Logger
	logOnly   bool
}

// NewNotificationSink creates a new notification sink
func NewNotificationSink(config NotificationConfig, directory OwnerDirectory, logger *zap.Logger) *NotificationSink {
	logOnly := config.Provider != "sendgrid" || config.APIKey == ""

	var client *sendgrid.Client
	if !logOnly {
		client = sendgrid.NewSendClient(config.APIKey)
	}

	return &NotificationSink{
		config:    config,
		client:    client,
		directory: directory,
		logger:    logger,
		logOnly:   logOnly,
	}
}

// Notify delivers one plan event to its owner
func (s *NotificationSink) Notify(ctx context.Context, ownerID uuid.UUID, event string, plan *entities.RecurringPlan) error {
	subject, body := renderPlanEvent(event, plan)

	if s.logOnly {
		s.logger.Info("plan notification",
			zap.String("owner_id", ownerID.String()),
			zap.String("event", event),
			zap.String("subject", subject),
		)
		return nil
	}

	email, err := s.directory.GetEmail(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("resolve owner email: %w", err)
	}

	from := mail.NewEmail(s.config.FromName, s.config.FromEmail)
	to := mail.NewEmail("", email)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	response, err := s.client.SendWithContext(sendCtx, message)
	if err != nil {
		return fmt.Errorf("send notification email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("email provider returned status %d: %s", response.StatusCode, response.Body)
	}

	s.logger.Info("plan notification sent",
		zap.String("owner_id", ownerID.String()),
		zap.String("event", event),
	)
	return nil
}

func renderPlanEvent(event string, plan *entities.RecurringPlan) (subject, body string) {
	planDesc := fmt.Sprintf("%s %s plan for %s %s", plan.Frequency, plan.Asset, plan.Amount.String(), plan.Currency)

	switch event {
	case entities.PlanEventExecuted:
		subject = fmt.Sprintf("Your %s purchase went through", plan.Asset)
		body = fmt.Sprintf(
			"Your %s executed. You now hold %s %s at an average price of %s.",
			planDesc, plan.TotalAssetQty.String(), plan.Asset, plan.AveragePrice.String())
	case entities.PlanEventFailed:
		subject = fmt.Sprintf("Your %s purchase could not be completed", plan.Asset)
		body = fmt.Sprintf(
			"Your %s failed (%d consecutive failures). We will retry at %s.",
			planDesc, plan.FailureCount, plan.NextExecution.Format(time.RFC1123))
	case entities.PlanEventPaused:
		subject = fmt.Sprintf("Your %s plan is paused", plan.Asset)
		body = fmt.Sprintf(
			"Your %s was paused after repeated payment failures. Update your payment method and resume the plan.",
			planDesc)
	case entities.PlanEventGoalAchieved:
		subject = fmt.Sprintf("You reached your %s goal", plan.Asset)
		body = fmt.Sprintf(
			"Congratulations, your %s reached its goal. Total invested: %s %s.",
			planDesc, plan.TotalInvested.String(), plan.Currency)
	case entities.PlanEventCancelled:
		subject = fmt.Sprintf("Your %s plan is cancelled", plan.Asset)
		body = fmt.Sprintf("Your %s was cancelled. Total invested to date: %s %s.",
			planDesc, plan.TotalInvested.String(), plan.Currency)
	default:
		subject = "Update on your recurring investment plan"
		body = planDesc
	}

	return subject, body
}
