package repository

import (
	"context"
	"time"

	"github.com/causehive/donation-service/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartRepository persists carts and their line items. Every item mutation
// runs in a transaction that first locks the owning cart row.
type CartRepository interface {
	GetOrCreateActive(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	FindByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	CreateAnonymous(ctx context.Context) (*models.Cart, error)
	AddItem(ctx context.Context, cartID, causeID uuid.UUID, amount decimal.Decimal, quantity int) (*models.CartItem, error)
	SetItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (*models.CartItem, error)
	RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error
	Delete(ctx context.Context, cartID uuid.UUID) error
}

type GormCartRepository struct {
	db *gorm.DB
}

func NewGormCartRepository(db *gorm.DB) CartRepository {
	return &GormCartRepository{db: db}
}

// GetOrCreateActive returns the newest active cart for userID, creating one
// when none exists. Older active carts left behind by a race are marked
// abandoned. A per-user advisory lock serializes concurrent callers.
func (r *GormCartRepository) GetOrCreateActive(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := advisoryLock(tx, "cart:user:"+userID.String()); err != nil {
			return err
		}

		var active []models.Cart
		if err := tx.Where("user_id = ? AND status = ?", userID, models.CartStatusActive).
			Order("created_at DESC").
			Find(&active).Error; err != nil {
			return err
		}

		if len(active) == 0 {
			cart = models.Cart{UserID: &userID, Status: models.CartStatusActive}
			return tx.Create(&cart).Error
		}

		cart = active[0]
		if len(active) > 1 {
			stale := make([]uuid.UUID, 0, len(active)-1)
			for _, c := range active[1:] {
				stale = append(stale, c.ID)
			}
			return tx.Model(&models.Cart{}).
				Where("id IN ?", stale).
				Updates(map[string]interface{}{"status": models.CartStatusAbandoned, "updated_at": time.Now()}).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// FindActiveByUser does not create a cart.
func (r *GormCartRepository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.CartStatusActive).
		Order("created_at DESC").
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *GormCartRepository) FindByID(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	if err := r.db.WithContext(ctx).Where("id = ?", cartID).First(&cart).Error; err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *GormCartRepository) CreateAnonymous(ctx context.Context) (*models.Cart, error) {
	cart := models.Cart{Status: models.CartStatusActive}
	if err := r.db.WithContext(ctx).Create(&cart).Error; err != nil {
		return nil, err
	}
	cart.Items = []models.CartItem{}
	return &cart, nil
}

// AddItem upserts on (cart_id, cause_id): quantity accumulates and the
// latest donation_amount wins.
func (r *GormCartRepository) AddItem(ctx context.Context, cartID, causeID uuid.UUID, amount decimal.Decimal, quantity int) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActiveCart(tx, cartID); err != nil {
			return err
		}

		row := models.CartItem{CartID: cartID, CauseID: causeID, DonationAmount: amount, Quantity: quantity}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "cart_id"}, {Name: "cause_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"quantity":        gorm.Expr("cart_items.quantity + EXCLUDED.quantity"),
				"donation_amount": gorm.Expr("EXCLUDED.donation_amount"),
				"updated_at":      gorm.Expr("EXCLUDED.updated_at"),
			}),
		}).Create(&row).Error; err != nil {
			return err
		}

		return tx.Where("cart_id = ? AND cause_id = ?", cartID, causeID).First(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SetItemQuantity deletes the item when quantity <= 0 and returns (nil, nil).
func (r *GormCartRepository) SetItemQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (*models.CartItem, error) {
	var item *models.CartItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActiveCart(tx, cartID); err != nil {
			return err
		}

		if quantity <= 0 {
			return deleteItem(tx, cartID, itemID)
		}

		res := tx.Model(&models.CartItem{}).
			Where("id = ? AND cart_id = ?", itemID, cartID).
			Updates(map[string]interface{}{"quantity": quantity, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var updated models.CartItem
		if err := tx.Where("id = ?", itemID).First(&updated).Error; err != nil {
			return err
		}
		item = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *GormCartRepository) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActiveCart(tx, cartID); err != nil {
			return err
		}
		return deleteItem(tx, cartID, itemID)
	})
}

// Delete removes the cart and its items in one transaction.
func (r *GormCartRepository) Delete(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActiveCart(tx, cartID); err != nil {
			return err
		}
		if err := tx.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", cartID).Delete(&models.Cart{}).Error
	})
}

func (r *GormCartRepository) loadItems(ctx context.Context, cart *models.Cart) error {
	var items []models.CartItem
	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cart.ID).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return err
	}
	cart.Items = items
	return nil
}

// lockActiveCart takes the cart row lock and fails with ErrCartNotActive
// when the cart is missing or no longer active.
func lockActiveCart(tx *gorm.DB, cartID uuid.UUID) error {
	var cart models.Cart
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", cartID).
		First(&cart).Error
	if err != nil {
		return err
	}
	if cart.Status != models.CartStatusActive {
		return ErrCartNotActive
	}
	return nil
}

func deleteItem(tx *gorm.DB, cartID, itemID uuid.UUID) error {
	res := tx.Where("id = ? AND cart_id = ?", itemID, cartID).Delete(&models.CartItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// advisoryLock takes a transaction-scoped Postgres advisory lock on key.
func advisoryLock(tx *gorm.DB, key string) error {
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}
