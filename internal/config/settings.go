package config

import "github.com/fitblendz/bookingd/internal/model"

// Settings is the explicit configuration value injected into the router,
// ledger, and notification gateway at construction. Nothing reads these
// values from the environment after startup.
type Settings struct {
	// OperatorPhone is the single identity allowed to approve, deny, and
	// list pending appointments over the messaging channel.
	OperatorPhone string

	// VerifyToken is the shared secret for the webhook verification
	// handshake.
	VerifyToken string

	// WhatsApp Cloud API credentials.
	WhatsAppToken string
	PhoneNumberID string

	// SMTP relay for customer email.
	SMTPHost string
	SMTPPort string
	MailFrom string

	// Booking policy.
	HorizonDays      int
	SlotGranularity  int // minutes
	BusinessName     string
	BusinessTimezone string
}

// LoadSettings reads the injected configuration from the environment once,
// at startup.
func LoadSettings() (Settings, error) {
	operator, err := RequiredString("OPERATOR_WHATSAPP")
	if err != nil {
		return Settings{}, err
	}
	verifyToken, err := RequiredString("WHATSAPP_VERIFY_TOKEN")
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OperatorPhone:    model.NormalizePhone(operator),
		VerifyToken:      verifyToken,
		WhatsAppToken:    String("WHATSAPP_TOKEN", ""),
		PhoneNumberID:    String("WHATSAPP_PHONE_NUMBER_ID", ""),
		SMTPHost:         String("SMTP_HOST", ""),
		SMTPPort:         String("SMTP_PORT", "1025"),
		MailFrom:         String("MAIL_FROM", "no-reply@fitblendz.local"),
		HorizonDays:      Int("BOOKING_HORIZON_DAYS", 90),
		SlotGranularity:  Int("SLOT_GRANULARITY_MINUTES", 30),
		BusinessName:     String("BUSINESS_NAME", "FitBlendz"),
		BusinessTimezone: String("BUSINESS_TZ", "UTC"),
	}, nil
}
