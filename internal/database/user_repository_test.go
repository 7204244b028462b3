package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treasuretrails/payments-backend/internal/models"
)

func TestCreateUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, testLogger())

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		user := &models.User{
			ReferenceID:  uuid.New().String(),
			FirstNameEnc: "vault:v1:aaa",
			LastNameEnc:  "vault:v1:bbb",
			EmailEnc:     "vault:v1:ccc",
			EmailHMAC:    "hmac-1",
			PhoneEnc:     "vault:v1:ddd",
			PhoneHMAC:    "hmac-2",
			Gender:       models.GenderUndisclosed,
			Active:       true,
		}
		err := repo.Create(context.Background(), user)
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate Email HMAC", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(fmt.Errorf("duplicate key value violates unique constraint"))

		err := repo.Create(context.Background(), &models.User{ReferenceID: uuid.New().String()})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create user")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func userRows(userID uuid.UUID, referenceID string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "reference_id", "first_name_enc", "last_name_enc",
		"email_enc", "email_hmac", "phone_enc", "phone_hmac", "dob_enc",
		"gender", "active", "anonymized", "created_at", "updated_at",
	}).AddRow(
		userID, referenceID, "vault:v1:aaa", "vault:v1:bbb",
		"vault:v1:ccc", "hmac-1", "vault:v1:ddd", "hmac-2", "",
		models.GenderUndisclosed, active, false, now, now,
	)
}

func TestGetByEmailHMAC(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, testLogger())

	t.Run("Found", func(t *testing.T) {
		userID := uuid.New()
		mock.ExpectQuery(`SELECT \* FROM users WHERE email_hmac`).
			WithArgs("hmac-1").
			WillReturnRows(userRows(userID, "ref-1", true))

		user, err := repo.GetByEmailHMAC(context.Background(), "hmac-1")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, userID, user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Not Found Returns Nil", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM users WHERE email_hmac`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		user, err := repo.GetByEmailHMAC(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, user)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestArchiveAndReactivate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, testLogger())

	t.Run("Archive Active User", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET active = FALSE`).
			WithArgs("ref-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		archived, err := repo.Archive(context.Background(), "ref-1")
		require.NoError(t, err)
		assert.True(t, archived)
	})

	t.Run("Archive Already Archived", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET active = FALSE`).
			WithArgs("ref-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		archived, err := repo.Archive(context.Background(), "ref-1")
		require.NoError(t, err)
		assert.False(t, archived)
	})

	t.Run("Reactivate Archived User", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET active = TRUE`).
			WithArgs("ref-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		reactivated, err := repo.Reactivate(context.Background(), "ref-1")
		require.NoError(t, err)
		assert.True(t, reactivated)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnonymize(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, testLogger())

	t.Run("Overwrites Ciphertext With Sentinel", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users`).
			WithArgs(models.AnonymizedSentinel, "ref-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		anonymized, err := repo.Anonymize(context.Background(), "ref-1")
		require.NoError(t, err)
		assert.True(t, anonymized)
	})

	t.Run("Terminal State Is Idempotent", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users`).
			WithArgs(models.AnonymizedSentinel, "ref-1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		anonymized, err := repo.Anonymize(context.Background(), "ref-1")
		require.NoError(t, err)
		assert.False(t, anonymized)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
