package alert

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/gmsas95/pillminder/internal/config"
)

const (
	mailSubject = "Medication Missed Alert"
	mailBody    = "The patient has postponed or skipped the medicine [%s] three consecutive times."
)

// Mailer sends one plain-text message.
type Mailer interface {
	Send(from, to, subject, body string) error
}

// SMTPMailer sends through an SMTP server with STARTTLS.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.User,
	}
}

func (m *SMTPMailer) Send(from, to, subject, body string) error {
	if from == "" {
		from = m.from
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}

// Relay answers POST /send-alert. A nil mailer means credentials are not
// configured and sends are simulated.
type Relay struct {
	mailer   Mailer
	validate *validator.Validate
	logger   *zap.Logger
}

func NewRelay(mailer Mailer, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		mailer:   mailer,
		validate: validator.New(),
		logger:   logger,
	}
}

// NewRelayFromConfig picks the SMTP mailer when credentials are present.
func NewRelayFromConfig(cfg config.SMTPConfig, logger *zap.Logger) *Relay {
	if !cfg.Configured() {
		return NewRelay(nil, logger)
	}
	return NewRelay(NewSMTPMailer(cfg), logger)
}

func (r *Relay) Register(app fiber.Router) {
	app.Post("/send-alert", r.Handle)
}

func (r *Relay) Handle(c *fiber.Ctx) error {
	var a Alert
	if err := c.BodyParser(&a); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(Result{Status: "error", Message: "No data provided"})
	}
	if a.UserEmail == "" || a.CaretakerEmail == "" || a.MedicineName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(Result{Status: "error", Message: "Missing required fields"})
	}
	if err := r.validate.Struct(a); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(Result{Status: "error", Message: "Invalid email address"})
	}

	if r.mailer == nil {
		r.logger.Info("Email credentials not configured, simulating alert",
			zap.String("caretaker", a.CaretakerEmail),
			zap.String("medicine", a.MedicineName))
		return c.JSON(Result{Status: "sent", Simulated: true})
	}

	if err := r.mailer.Send("", a.CaretakerEmail, mailSubject, fmt.Sprintf(mailBody, a.MedicineName)); err != nil {
		r.logger.Error("Failed to send alert email",
			zap.String("caretaker", a.CaretakerEmail),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(Result{Status: "error", Message: err.Error()})
	}

	r.logger.Info("Alert email sent", zap.String("caretaker", a.CaretakerEmail), zap.String("medicine", a.MedicineName))
	return c.JSON(Result{Status: "sent"})
}
