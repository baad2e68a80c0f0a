package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrPayoutNotConfigured = errors.New("user has not configured withdrawal address")

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	IsActive *bool     `json:"is_active"`
}

// Active treats a missing is_active flag as active.
func (u *User) Active() bool { return u.IsActive == nil || *u.IsActive }

// Profile is the caller's own profile. WithdrawalAddress holds the payout
// method under "payment_method" next to the method's detail fields.
type Profile struct {
	ID                uuid.UUID              `json:"id"`
	WithdrawalAddress map[string]interface{} `json:"withdrawal_address"`
}

// PayoutDetails splits the withdrawal address into method and details.
func (p *Profile) PayoutDetails() (string, map[string]interface{}, error) {
	if len(p.WithdrawalAddress) == 0 {
		return "", nil, ErrPayoutNotConfigured
	}
	details := make(map[string]interface{}, len(p.WithdrawalAddress))
	method := ""
	for k, v := range p.WithdrawalAddress {
		if k == "payment_method" {
			method, _ = v.(string)
			continue
		}
		details[k] = v
	}
	return method, details, nil
}

type UserService interface {
	GetUser(ctx context.Context, userID uuid.UUID, authHeader string) (*User, error)
	GetProfile(ctx context.Context, authHeader string) (*Profile, error)
}

type UserClient struct {
	baseClient
}

func NewUserClient(baseURL, serviceKey string, timeout time.Duration) *UserClient {
	return &UserClient{baseClient: newBaseClient("user", baseURL, serviceKey, timeout)}
}

func (c *UserClient) GetUser(ctx context.Context, userID uuid.UUID, authHeader string) (*User, error) {
	var user User
	if err := c.getJSON(ctx, fmt.Sprintf("/users/%s/", userID), authHeader, &user); err != nil {
		return nil, err
	}
	if user.ID == uuid.Nil {
		return nil, errors.New("user is not valid")
	}
	return &user, nil
}

func (c *UserClient) GetProfile(ctx context.Context, authHeader string) (*Profile, error) {
	var profile Profile
	if err := c.getJSON(ctx, "/profile/", authHeader, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}
