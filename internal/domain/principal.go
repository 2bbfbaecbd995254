package domain

import (
	"math"
	"time"
)

// Principal is a premium account provisioned out of band.
type Principal struct {
	Handle      string    `yaml:"handle" json:"handle"`
	SecretHash  string    `yaml:"secret_hash" json:"-"`
	DisplayName string    `yaml:"display_name" json:"display_name"`
	Email       string    `yaml:"email" json:"email"`
	ExpiresAt   time.Time `yaml:"expires_at" json:"expires_at"`
}

// Active reports whether the principal's subscription covers now.
func (p Principal) Active(now time.Time) bool {
	return !now.After(p.ExpiresAt)
}

// DaysLeft returns whole days remaining, never negative.
func (p Principal) DaysLeft(now time.Time) int {
	if !p.Active(now) {
		return 0
	}
	return int(math.Ceil(p.ExpiresAt.Sub(now).Hours() / 24))
}

// PurchaseRequest is the payload collected by the purchase intake form.
type PurchaseRequest struct {
	ID            string    `json:"id"`
	UserID        UserID    `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	PaymentMethod string    `json:"payment_method"`
	AmountUSD     int       `json:"amount_usd"`
	PeriodDays    int       `json:"period_days"`
	CreatedAt     time.Time `json:"created_at"`
}
