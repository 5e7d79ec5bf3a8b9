package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_USER       = "user"
	ROLE_ADMIN      = "admin"
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;type:varchar(150)" json:"username" validate:"required,min=3,max=150"`
	Email    string `gorm:"type:varchar(200);default:''" json:"email" validate:"omitempty,email,max=200"`
	Role     string `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`
	Status   string `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active inactive disabled"`
	BlogURL  string `gorm:"type:varchar(255);default:''" json:"blog_url" validate:"max=255"`

	// Billing fields. StripeCustomerID is set once and never reassigned;
	// StripeSubscriptionID churns across subscribe/cancel/resubscribe cycles.
	StripeCustomerID     string `gorm:"type:varchar(191);default:'';index" json:"-"`
	StripeSubscriptionID string `gorm:"type:varchar(191);default:''" json:"-"`
	IsPremium            bool   `gorm:"default:false;index" json:"is_premium"`
	IsApproved           bool   `gorm:"default:false" json:"is_approved"`
	IsGrandfathered      bool   `gorm:"default:false" json:"-"`
	MoneroAddress        string `gorm:"type:varchar(191);default:''" json:"-"`

	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// IsBypass reports whether billing for the user is handled outside the
// payment gateway. Bypass users are never billed and their premium flag is
// never touched by gateway-driven transitions.
func (u *User) IsBypass() bool {
	return u.IsGrandfathered || u.MoneroAddress != ""
}

// HasRemoteCustomer reports whether a gateway customer has been created.
func (u *User) HasRemoteCustomer() bool {
	return u.StripeCustomerID != ""
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}
