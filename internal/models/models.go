package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Plan is a subscription tier. Plans are totally ordered by Rank.
type Plan string

const (
	PlanBasic   Plan = "basic"
	PlanPlus    Plan = "plus"
	PlanPremium Plan = "premium"
	PlanUltra   Plan = "ultra"
)

// Plans lists every plan in ascending rank.
var Plans = []Plan{PlanBasic, PlanPlus, PlanPremium, PlanUltra}

var planRanks = map[Plan]int{
	PlanBasic:   0,
	PlanPlus:    1,
	PlanPremium: 2,
	PlanUltra:   3,
}

// ParsePlan validates a stored or submitted plan value.
func ParsePlan(raw string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := planRanks[p]; !ok {
		return "", fmt.Errorf("unknown plan %q", raw)
	}
	return p, nil
}

// Rank returns 0..3 for known plans and -1 otherwise.
func (p Plan) Rank() int {
	if r, ok := planRanks[p]; ok {
		return r
	}
	return -1
}

func (p Plan) Valid() bool {
	return p.Rank() >= 0
}

// Capability is an independent generation pool with its own credits and models.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
	CapabilityVideo Capability = "video"
)

var Capabilities = []Capability{CapabilityText, CapabilityImage, CapabilityVideo}

func ParseCapability(raw string) (Capability, error) {
	c := Capability(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CapabilityText, CapabilityImage, CapabilityVideo:
		return c, nil
	default:
		return "", fmt.Errorf("unknown capability %q", raw)
	}
}

type Role string

const (
	RoleUser       Role = "user"
	RoleSuperAdmin Role = "super-admin"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleUser, RoleSuperAdmin:
		return r, nil
	case "":
		return RoleUser, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// Credits holds the per-capability balances of a user.
type Credits struct {
	Text  int `json:"text"`
	Image int `json:"image"`
	Video int `json:"video"`
}

func (c Credits) Of(capability Capability) int {
	switch capability {
	case CapabilityText:
		return c.Text
	case CapabilityImage:
		return c.Image
	case CapabilityVideo:
		return c.Video
	default:
		return 0
	}
}

// With returns a copy of c with the balance of capability replaced.
func (c Credits) With(capability Capability, balance int) Credits {
	switch capability {
	case CapabilityText:
		c.Text = balance
	case CapabilityImage:
		c.Image = balance
	case CapabilityVideo:
		c.Video = balance
	}
	return c
}

type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Plan      Plan      `json:"plan"`
	Role      Role      `json:"role"`
	Credits   Credits   `json:"credits"`
	FullName  string    `json:"full_name,omitempty"`
	Username  string    `json:"username,omitempty"`
	Specialty string    `json:"specialty,omitempty"`
	BrandName string    `json:"brand_name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Instagram string    `json:"instagram,omitempty"`
	Website   string    `json:"website,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnonymousProfile is the profile used when no user is signed in.
func AnonymousProfile() *Profile {
	return &Profile{Plan: PlanBasic, Role: RoleUser}
}

func (p *Profile) IsSuperAdmin() bool {
	return p != nil && p.Role == RoleSuperAdmin
}

// ModelDescriptor is a catalog entry. Descriptors are immutable after load.
type ModelDescriptor struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Provider   string     `json:"provider"`
	Platform   string     `json:"platform"`
	Capability Capability `json:"capability"`
	Tier       Plan       `json:"tier"`
	CreditCost int        `json:"credit_cost"`
}

type GeneratedContent struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	ContentType   Capability      `json:"content_type"`
	ContentText   *string         `json:"content_text"`
	ContentURL    *string         `json:"content_url"`
	PromptDetails json.RawMessage `json:"prompt_details"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// Retention returns how long a record of the given type is kept.
func Retention(contentType Capability) time.Duration {
	if contentType == CapabilityVideo {
		return 7 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// Credential is a stored API key, keyed by model name or by platform.
type Credential struct {
	ModelName string
	Platform  string
	APIKey    string
}

type PlatformConfig struct {
	StripePublishableKey string          `json:"stripe_publishable_key"`
	StripeSecretKey      string          `json:"stripe_secret_key"`
	PriceIDs             map[Plan]string `json:"price_ids"`
	UpdatedAt            time.Time       `json:"updated_at"`
}
