package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart lifecycle statuses.
const (
	CartStatusActive    = "active"
	CartStatusCompleted = "completed"
	CartStatusAbandoned = "abandoned"
)

// Cart holds pending donation line items for a user, or for an anonymous
// donor when UserID is nil.
type Cart struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Status    string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CartItem is a pledge towards one cause. (cart_id, cause_id) is unique.
type CartItem struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CartID         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_cause" json:"cart_id"`
	CauseID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_cart_items_cart_cause" json:"cause_id"`
	DonationAmount decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"donation_amount"`
	Quantity       int             `gorm:"not null;default:1" json:"quantity"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Subtotal is donation_amount * quantity.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.DonationAmount.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total sums the subtotal of every item in the cart.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (c *Cart) IsAnonymous() bool { return c.UserID == nil }

// AddToCartRequest is the payload for POST /cart/add/.
type AddToCartRequest struct {
	CartID         *uuid.UUID      `json:"cart_id"`
	CauseID        uuid.UUID       `json:"cause_id" binding:"required"`
	DonationAmount decimal.Decimal `json:"donation_amount"`
	Quantity       *int            `json:"quantity"`
}

// UpdateCartItemRequest is the payload for PATCH /cart/items/:item_id/.
type UpdateCartItemRequest struct {
	CartID   *uuid.UUID `json:"cart_id"`
	Quantity *int       `json:"quantity" binding:"required"`
}

// CheckoutRequest is the payload for POST /cart/checkout/. Email is only
// read for anonymous donors.
type CheckoutRequest struct {
	CartID *uuid.UUID `json:"cart_id"`
	Email  string     `json:"email"`
}

// CheckoutResponse is returned once the gateway charge has been initialized.
type CheckoutResponse struct {
	AuthorizationURL string    `json:"authorization_url"`
	Reference        string    `json:"reference"`
	TotalAmount      string    `json:"total_amount"`
	PaymentID        uuid.UUID `json:"payment_id"`
}
