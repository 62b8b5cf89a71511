package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultWhatsAppAPIVersion = "v18.0"

type SMSProvider string

const (
	SMSProviderNone   SMSProvider = "none"
	SMSProviderMSG91  SMSProvider = "msg91"
	SMSProviderTwilio SMSProvider = "twilio"
)

// Tenant is the stored merchant record. Fields marked encrypted hold
// iv:tag:ciphertext strings and are never returned by the API.
type Tenant struct {
	TenantID      string          `bson:"tenant_id"`
	BusinessName  string          `bson:"business_name"`
	BusinessPhone string          `bson:"business_phone"`
	BusinessEmail string          `bson:"business_email"`
	WhatsApp      WhatsAppAccount `bson:"whatsapp"`
	Razorpay      RazorpayAccount `bson:"razorpay"`
	SMS           *SMSAccount     `bson:"sms,omitempty"`
	Settings      TenantSettings  `bson:"settings"`
	IsActive      bool            `bson:"is_active"`
	CreatedAt     time.Time       `bson:"created_at"`
	UpdatedAt     time.Time       `bson:"updated_at"`
}

type WhatsAppAccount struct {
	PhoneNumberID     string `bson:"phone_number_id"`
	BusinessAccountID string `bson:"business_account_id"`
	AccessToken       string `bson:"access_token"` // encrypted
	VerifyToken       string `bson:"verify_token"`
	CatalogID         string `bson:"catalog_id"`
	APIVersion        string `bson:"api_version"`
}

type RazorpayAccount struct {
	KeyID         string `bson:"key_id"`         // encrypted
	KeySecret     string `bson:"key_secret"`     // encrypted
	WebhookSecret string `bson:"webhook_secret"` // encrypted
}

type SMSAccount struct {
	Provider SMSProvider    `bson:"provider"`
	MSG91    *MSG91Account  `bson:"msg91,omitempty"`
	Twilio   *TwilioAccount `bson:"twilio,omitempty"`
}

type MSG91Account struct {
	APIKey   string `bson:"api_key"` // encrypted
	SenderID string `bson:"sender_id"`
	FlowID   string `bson:"flow_id"`
}

type TwilioAccount struct {
	AccountSID  string `bson:"account_sid"` // encrypted
	AuthToken   string `bson:"auth_token"`  // encrypted
	PhoneNumber string `bson:"phone_number"`
}

type TenantSettings struct {
	WelcomeMessage string `bson:"welcome_message,omitempty" json:"welcomeMessage,omitempty"`
	Currency       string `bson:"currency" json:"currency"`
	Timezone       string `bson:"timezone,omitempty" json:"timezone,omitempty"`
}

// NewTenantID returns "tnt_" followed by 12 random characters.
func NewTenantID() string {
	return "tnt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// TenantConfig is the decrypted runtime form of a Tenant. It lives only in memory.
type TenantConfig struct {
	TenantID      string
	BusinessName  string
	BusinessPhone string
	BusinessEmail string
	WhatsApp      WhatsAppConfig
	Razorpay      RazorpayConfig
	SMS           *SMSConfig
	Settings      TenantSettings
}

type WhatsAppConfig struct {
	PhoneNumberID     string
	BusinessAccountID string
	AccessToken       string
	VerifyToken       string
	CatalogID         string
	APIVersion        string
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type SMSConfig struct {
	Provider SMSProvider
	MSG91    *MSG91Config
	Twilio   *TwilioConfig
}

type MSG91Config struct {
	APIKey   string
	SenderID string
	FlowID   string
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

func (c *TenantConfig) Currency() string {
	if c.Settings.Currency == "" {
		return DefaultCurrency
	}
	return c.Settings.Currency
}
