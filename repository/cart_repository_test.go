package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/causehive/donation-service/models"
	"github.com/causehive/donation-service/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

var cartColumns = []string{"id", "user_id", "status", "created_at", "updated_at"}

var itemColumns = []string{"id", "cart_id", "cause_id", "donation_amount", "quantity", "created_at", "updated_at"}

func expectCartLock(mock sqlmock.Sqlmock, cartID uuid.UUID, status string) {
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "carts"`)).
		WillReturnRows(sqlmock.NewRows(cartColumns).AddRow(cartID.String(), nil, status, now, now))
}

func TestGetOrCreateActive_CreatesWhenMissing(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	userID := uuid.New()
	cartID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
		WithArgs("cart:user:" + userID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "carts"`)).
		WillReturnRows(sqlmock.NewRows(cartColumns))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "carts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(cartID.String()))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_items"`)).
		WillReturnRows(sqlmock.NewRows(itemColumns))

	cart, err := repo.GetOrCreateActive(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, cartID, cart.ID)
	assert.Equal(t, userID, *cart.UserID)
	assert.Equal(t, models.CartStatusActive, cart.Status)
	assert.Empty(t, cart.Items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateActive_AbandonsExtraCarts(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	userID := uuid.New()
	newest := uuid.New()
	older := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`SELECT pg_advisory_xact_lock`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "carts"`)).
		WillReturnRows(sqlmock.NewRows(cartColumns).
			AddRow(newest.String(), userID.String(), models.CartStatusActive, now, now).
			AddRow(older.String(), userID.String(), models.CartStatusActive, now.Add(-time.Hour), now))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "carts" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_items"`)).
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow(uuid.NewString(), newest.String(), uuid.NewString(), "25.00", 2, now, now))

	cart, err := repo.GetOrCreateActive(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, newest, cart.ID)
	require.Len(t, cart.Items, 1)
	assert.True(t, cart.Total().Equal(decimal.NewFromInt(50)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "carts"`)).
		WillReturnRows(sqlmock.NewRows(cartColumns))

	cart, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, cart)
}

func TestAddItem_Upsert(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	cartID := uuid.New()
	causeID := uuid.New()
	itemID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	expectCartLock(mock, cartID, models.CartStatusActive)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "cart_items"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(itemID.String()))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "cart_items"`)).
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow(itemID.String(), cartID.String(), causeID.String(), "20.00", 3, now, now))
	mock.ExpectCommit()

	item, err := repo.AddItem(context.Background(), cartID, causeID, decimal.NewFromInt(20), 1)
	require.NoError(t, err)
	assert.Equal(t, itemID, item.ID)
	assert.Equal(t, 3, item.Quantity)
	assert.True(t, item.Subtotal().Equal(decimal.NewFromInt(60)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddItem_CartNotActive(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	cartID := uuid.New()

	mock.ExpectBegin()
	expectCartLock(mock, cartID, models.CartStatusCompleted)
	mock.ExpectRollback()

	item, err := repo.AddItem(context.Background(), cartID, uuid.New(), decimal.NewFromInt(5), 1)
	assert.ErrorIs(t, err, repository.ErrCartNotActive)
	assert.Nil(t, item)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetItemQuantity_ZeroDeletes(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	cartID := uuid.New()

	mock.ExpectBegin()
	expectCartLock(mock, cartID, models.CartStatusActive)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "cart_items"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	item, err := repo.SetItemQuantity(context.Background(), cartID, uuid.New(), 0)
	assert.NoError(t, err)
	assert.Nil(t, item)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetItemQuantity_MissingItem(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	cartID := uuid.New()

	mock.ExpectBegin()
	expectCartLock(mock, cartID, models.CartStatusActive)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "cart_items" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.SetItemQuantity(context.Background(), cartID, uuid.New(), 4)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCart_RemovesItemsAndCart(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormCartRepository(gormDB)

	cartID := uuid.New()

	mock.ExpectBegin()
	expectCartLock(mock, cartID, models.CartStatusActive)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "cart_items"`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "carts"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, repo.Delete(context.Background(), cartID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
