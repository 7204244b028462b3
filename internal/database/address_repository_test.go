package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/models"
)

func sampleAddress(userID uuid.UUID, primary bool) *models.Address {
	return &models.Address{
		UserID:     userID,
		Type:       models.AddressTypeHome,
		Line1Enc:   "enc-line1",
		CityEnc:    "enc-city",
		PostalEnc:  "enc-postal",
		CountryEnc: "enc-country",
		IsPrimary:  primary,
	}
}

func TestCreateForcesFirstAddressPrimary(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAddressRepository(db, testLogger())
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM addresses`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	// forced primary still runs the demotion, a no-op on an empty set
	mock.ExpectExec(`UPDATE addresses SET is_primary = FALSE`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO addresses`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	address := sampleAddress(userID, false)
	err := repo.Create(context.Background(), address)
	require.NoError(t, err)
	assert.True(t, address.IsPrimary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePrimaryDemotesExistingPrimary(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAddressRepository(db, testLogger())
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM addresses`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`UPDATE addresses SET is_primary = FALSE`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO addresses`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), sampleAddress(userID, true))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNonPrimaryLeavesExistingPrimaryAlone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAddressRepository(db, testLogger())
	userID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM addresses`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO addresses`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), sampleAddress(userID, false))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPrimaryClearsThenSets(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAddressRepository(db, testLogger())
	userID := uuid.New()
	addressID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE addresses SET is_primary = FALSE`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE addresses SET is_primary = TRUE`).
		WithArgs(addressID, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetPrimary(context.Background(), userID, addressID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPrimaryFailsForUnknownAddress(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAddressRepository(db, testLogger())
	userID := uuid.New()
	addressID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE addresses SET is_primary = FALSE`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE addresses SET is_primary = TRUE`).
		WithArgs(addressID, userID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.SetPrimary(context.Background(), userID, addressID)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePrimaryPromotesNewestRemaining(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAddressRepository(db, testLogger())
	userID := uuid.New()
	addressID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_primary FROM addresses`).
		WithArgs(addressID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"is_primary"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM addresses WHERE id`).
		WithArgs(addressID, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the replacement is the most recently created remaining address
	mock.ExpectExec(`ORDER BY created_at DESC LIMIT 1`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), userID, addressID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNonPrimarySkipsPromotion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAddressRepository(db, testLogger())
	userID := uuid.New()
	addressID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT is_primary FROM addresses`).
		WithArgs(addressID, userID).
		WillReturnRows(sqlmock.NewRows([]string{"is_primary"}).AddRow(false))
	mock.ExpectExec(`DELETE FROM addresses WHERE id`).
		WithArgs(addressID, userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), userID, addressID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
