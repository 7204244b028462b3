package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/treasuretrails/payments-backend/internal/crypto"
	"github.com/treasuretrails/payments-backend/internal/database"
	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/pkg/errs"
	"github.com/treasuretrails/payments-backend/pkg/jwt"
	"github.com/treasuretrails/payments-backend/pkg/validator"
)

// RequestMeta carries actor and request context into audited operations
type RequestMeta struct {
	ActorID       string
	ActorRole     jwt.Role
	CorrelationID string
	SessionID     string
	IPAddress     string
	UserAgent     string
}

// CreateUserInput is the plaintext profile to vault
type CreateUserInput struct {
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	DateOfBirth string
	Gender      models.Gender
}

// UpdateUserInput carries optional replacements; nil means keep
type UpdateUserInput struct {
	FirstName   *string
	LastName    *string
	Email       *string
	Phone       *string
	DateOfBirth *string
	Gender      *models.Gender
}

// AddressInput is the plaintext address to vault
type AddressInput struct {
	Type      models.AddressType
	Line1     string
	Line2     string
	City      string
	Postal    string
	Country   string
	IsPrimary bool
}

// ConsentInput records a consent decision
type ConsentInput struct {
	ConsentKey     string
	Granted        bool
	ConsentVersion string
	Source         models.ConsentSource
	LegalBasis     models.LegalBasis
}

// IdentityService owns the PII vault: users, addresses and consents are
// encrypted through the KMS provider before they reach the repositories,
// and every access is audited.
type IdentityService struct {
	db        *sqlx.DB
	users     *database.UserRepository
	addresses *database.AddressRepository
	consents  *database.ConsentRepository
	audits    *database.UserAuditRepository
	outbox    *database.OutboxRepository
	provider  crypto.Provider
	phones    *validator.PhoneValidator
	piiKey    string
	hmacKey   string
	logger    *logrus.Logger
}

// NewIdentityService creates a new identity service
func NewIdentityService(
	db *sqlx.DB,
	users *database.UserRepository,
	addresses *database.AddressRepository,
	consents *database.ConsentRepository,
	audits *database.UserAuditRepository,
	outbox *database.OutboxRepository,
	provider crypto.Provider,
	piiKey, hmacKey string,
	logger *logrus.Logger,
) *IdentityService {
	return &IdentityService{
		db:        db,
		users:     users,
		addresses: addresses,
		consents:  consents,
		audits:    audits,
		outbox:    outbox,
		provider:  provider,
		phones:    validator.NewPhoneValidator(),
		piiKey:    piiKey,
		hmacKey:   hmacKey,
		logger:    logger,
	}
}

// CreateUser vaults a new profile. Email and phone are normalized before
// both encryption and HMAC indexing so lookups stay deterministic.
func (s *IdentityService) CreateUser(ctx context.Context, input CreateUserInput, meta RequestMeta) (*models.UserProfile, error) {
	email, err := validator.ValidateEmail(input.Email)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "INVALID_EMAIL", "invalid email address")
	}
	phone, err := s.phones.Validate(input.Phone)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "INVALID_PHONE", "invalid phone number")
	}

	emailHMAC, err := s.provider.HMAC(ctx, s.hmacKey, []byte(crypto.NormalizeEmail(email)))
	if err != nil {
		return nil, err
	}
	phoneHMAC, err := s.provider.HMAC(ctx, s.hmacKey, []byte(crypto.NormalizePhone(phone)))
	if err != nil {
		return nil, err
	}

	if existing, err := s.users.GetByEmailHMAC(ctx, emailHMAC); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errs.New(errs.KindDuplicate, "EMAIL_IN_USE", "a user with this email already exists")
	}
	if existing, err := s.users.GetByPhoneHMAC(ctx, phoneHMAC); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, errs.New(errs.KindDuplicate, "PHONE_IN_USE", "a user with this phone already exists")
	}

	// v7 ids sort by creation time, keeping the reference-id index append-only
	referenceID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate reference id: %w", err)
	}

	user := &models.User{
		ReferenceID: referenceID.String(),
		EmailHMAC:   emailHMAC,
		PhoneHMAC:   phoneHMAC,
		Gender:      input.Gender,
		Active:      true,
	}
	if user.Gender == "" {
		user.Gender = models.GenderUndisclosed
	}

	fields := map[string]*string{
		"first_name": &user.FirstNameEnc,
		"last_name":  &user.LastNameEnc,
		"email":      &user.EmailEnc,
		"phone":      &user.PhoneEnc,
		"dob":        &user.DOBEnc,
	}
	plaintexts := map[string]string{
		"first_name": input.FirstName,
		"last_name":  input.LastName,
		"email":      crypto.NormalizeEmail(email),
		"phone":      crypto.NormalizePhone(phone),
		"dob":        input.DateOfBirth,
	}
	for name, dst := range fields {
		ct, err := s.provider.Encrypt(ctx, s.piiKey, []byte(plaintexts[name]))
		if err != nil {
			return nil, err
		}
		*dst = ct
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create user transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.users.CreateTx(ctx, tx, user); err != nil {
		return nil, err
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserCreated, user.ReferenceID, map[string]interface{}{
		"referenceId": user.ReferenceID,
		"gender":      user.Gender,
	}, meta); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit create user: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditCreated).SetUser(user.ID), meta)

	return &models.UserProfile{
		ReferenceID: user.ReferenceID,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Email:       crypto.NormalizeEmail(email),
		Phone:       crypto.NormalizePhone(phone),
		DateOfBirth: input.DateOfBirth,
		Gender:      user.Gender,
		Active:      true,
		CreatedAt:   user.CreatedAt,
	}, nil
}

// GetUser returns the profile for a reference id. Roles without
// plaintext privilege get a masked projection; every read is audited.
func (s *IdentityService) GetUser(ctx context.Context, referenceID string, meta RequestMeta) (*models.UserProfile, error) {
	user, err := s.users.GetByReferenceID(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	return s.project(ctx, user, meta)
}

// GetUserByEmail resolves a user through the deterministic email index
func (s *IdentityService) GetUserByEmail(ctx context.Context, email string, meta RequestMeta) (*models.UserProfile, error) {
	normalized, err := validator.ValidateEmail(email)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "INVALID_EMAIL", "invalid email address")
	}
	digest, err := s.provider.HMAC(ctx, s.hmacKey, []byte(crypto.NormalizeEmail(normalized)))
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByEmailHMAC(ctx, digest)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	return s.project(ctx, user, meta)
}

// GetUserByPhone resolves a user through the deterministic phone index
func (s *IdentityService) GetUserByPhone(ctx context.Context, phone string, meta RequestMeta) (*models.UserProfile, error) {
	sanitized, err := s.phones.Validate(phone)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindValidation, "INVALID_PHONE", "invalid phone number")
	}
	digest, err := s.provider.HMAC(ctx, s.hmacKey, []byte(crypto.NormalizePhone(sanitized)))
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByPhoneHMAC(ctx, digest)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	return s.project(ctx, user, meta)
}

// GetUsersBulk resolves a batch of reference ids. Missing ids are
// skipped rather than failing the batch.
func (s *IdentityService) GetUsersBulk(ctx context.Context, referenceIDs []string, meta RequestMeta) ([]*models.UserProfile, error) {
	users, err := s.users.GetByReferenceIDs(ctx, referenceIDs)
	if err != nil {
		return nil, err
	}
	profiles := make([]*models.UserProfile, 0, len(users))
	for _, user := range users {
		profile, err := s.project(ctx, user, meta)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// UpdateUser re-encrypts the provided fields and refreshes HMAC indexes
func (s *IdentityService) UpdateUser(ctx context.Context, referenceID string, input UpdateUserInput, meta RequestMeta) (*models.UserProfile, error) {
	user, err := s.users.GetByReferenceID(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	if user.Anonymized {
		return nil, errs.New(errs.KindInconsistentState, "USER_ANONYMIZED", "anonymized users cannot be updated")
	}

	changed := make([]string, 0, 6)

	encryptInto := func(name, plaintext string, dst *string) error {
		ct, err := s.provider.Encrypt(ctx, s.piiKey, []byte(plaintext))
		if err != nil {
			return err
		}
		*dst = ct
		changed = append(changed, name)
		return nil
	}

	if input.FirstName != nil {
		if err := encryptInto("first_name", *input.FirstName, &user.FirstNameEnc); err != nil {
			return nil, err
		}
	}
	if input.LastName != nil {
		if err := encryptInto("last_name", *input.LastName, &user.LastNameEnc); err != nil {
			return nil, err
		}
	}
	if input.DateOfBirth != nil {
		if err := encryptInto("dob", *input.DateOfBirth, &user.DOBEnc); err != nil {
			return nil, err
		}
	}
	if input.Email != nil {
		email, err := validator.ValidateEmail(*input.Email)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindValidation, "INVALID_EMAIL", "invalid email address")
		}
		normalized := crypto.NormalizeEmail(email)
		digest, err := s.provider.HMAC(ctx, s.hmacKey, []byte(normalized))
		if err != nil {
			return nil, err
		}
		if existing, err := s.users.GetByEmailHMAC(ctx, digest); err != nil {
			return nil, err
		} else if existing != nil && existing.ReferenceID != referenceID {
			return nil, errs.New(errs.KindDuplicate, "EMAIL_IN_USE", "a user with this email already exists")
		}
		user.EmailHMAC = digest
		if err := encryptInto("email", normalized, &user.EmailEnc); err != nil {
			return nil, err
		}
	}
	if input.Phone != nil {
		phone, err := s.phones.Validate(*input.Phone)
		if err != nil {
			return nil, errs.Wrap(err, errs.KindValidation, "INVALID_PHONE", "invalid phone number")
		}
		normalized := crypto.NormalizePhone(phone)
		digest, err := s.provider.HMAC(ctx, s.hmacKey, []byte(normalized))
		if err != nil {
			return nil, err
		}
		if existing, err := s.users.GetByPhoneHMAC(ctx, digest); err != nil {
			return nil, err
		} else if existing != nil && existing.ReferenceID != referenceID {
			return nil, errs.New(errs.KindDuplicate, "PHONE_IN_USE", "a user with this phone already exists")
		}
		user.PhoneHMAC = digest
		if err := encryptInto("phone", normalized, &user.PhoneEnc); err != nil {
			return nil, err
		}
	}
	if input.Gender != nil {
		user.Gender = *input.Gender
		changed = append(changed, "gender")
	}

	if len(changed) == 0 {
		return s.project(ctx, user, meta)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.users.UpdateTx(ctx, tx, user); err != nil {
		return nil, err
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserUpdated, user.ReferenceID, map[string]interface{}{
		"referenceId":   user.ReferenceID,
		"changedFields": changed,
	}, meta); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditUpdated).SetUser(user.ID).
		SetDetail(map[string]interface{}{"changed_fields": changed}), meta)

	return s.project(ctx, user, meta)
}

// ArchiveUser soft-deletes an active user
func (s *IdentityService) ArchiveUser(ctx context.Context, referenceID string, meta RequestMeta) error {
	user, err := s.users.GetByReferenceID(ctx, referenceID)
	if err != nil {
		return err
	}
	if user == nil {
		return errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	archived, err := s.users.ArchiveTx(ctx, tx, referenceID)
	if err != nil {
		return err
	}
	if !archived {
		return errs.New(errs.KindInconsistentState, "USER_NOT_ACTIVE", "user is not active")
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserArchived, referenceID, map[string]interface{}{
		"referenceId": referenceID,
	}, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditArchived).SetUser(user.ID), meta)
	return nil
}

// ReactivateUser reverses an archive
func (s *IdentityService) ReactivateUser(ctx context.Context, referenceID string, meta RequestMeta) error {
	user, err := s.users.GetByReferenceID(ctx, referenceID)
	if err != nil {
		return err
	}
	if user == nil {
		return errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	if user.Anonymized {
		return errs.New(errs.KindInconsistentState, "USER_ANONYMIZED", "anonymized users cannot be reactivated")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin reactivate transaction: %w", err)
	}
	defer tx.Rollback()

	reactivated, err := s.users.ReactivateTx(ctx, tx, referenceID)
	if err != nil {
		return err
	}
	if !reactivated {
		return errs.New(errs.KindInconsistentState, "USER_NOT_ARCHIVED", "user is not archived")
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserReactivated, referenceID, map[string]interface{}{
		"referenceId": referenceID,
	}, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reactivate: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditReactivated).SetUser(user.ID), meta)
	return nil
}

// AnonymizeUser irreversibly overwrites all ciphertext with the sentinel
// and removes addresses. The audit trail and reference id survive.
func (s *IdentityService) AnonymizeUser(ctx context.Context, referenceID string, meta RequestMeta) error {
	user, err := s.users.GetByReferenceID(ctx, referenceID)
	if err != nil {
		return err
	}
	if user == nil {
		return errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	if user.Anonymized {
		// terminal state, repeat requests succeed without effect
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin anonymize transaction: %w", err)
	}
	defer tx.Rollback()

	anonymized, err := s.users.AnonymizeTx(ctx, tx, referenceID)
	if err != nil {
		return err
	}
	if !anonymized {
		return nil
	}
	if err := s.addresses.DeleteAllForUserTx(ctx, tx, user.ID); err != nil {
		return err
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserDeleted, referenceID, map[string]interface{}{
		"referenceId": referenceID,
	}, meta); err != nil {
		return err
	}
	if err := s.stageEvent(ctx, tx, models.AggregateUser, referenceID, models.EventGDPRDataDeleted, map[string]interface{}{
		"referenceId": referenceID,
		"deletedAt":   time.Now().UTC().Format(time.RFC3339),
	}, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit anonymize: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditAnonymized).SetUser(user.ID), meta)
	return nil
}

// project decrypts (or masks) a vault row into a caller-facing profile
func (s *IdentityService) project(ctx context.Context, user *models.User, meta RequestMeta) (*models.UserProfile, error) {
	profile := &models.UserProfile{
		ReferenceID: user.ReferenceID,
		Gender:      user.Gender,
		Active:      user.Active,
		Anonymized:  user.Anonymized,
		ArchivedAt:  user.ArchivedAt,
		CreatedAt:   user.CreatedAt,
	}

	if user.Anonymized {
		profile.FirstName = models.AnonymizedSentinel
		profile.LastName = models.AnonymizedSentinel
		profile.Email = models.AnonymizedSentinel
		profile.Phone = models.AnonymizedSentinel
		profile.Redacted = true
		return profile, nil
	}

	decrypt := func(ciphertext string) (string, error) {
		if ciphertext == "" {
			return "", nil
		}
		plaintext, err := s.provider.Decrypt(ctx, s.piiKey, ciphertext)
		if err != nil {
			return "", err
		}
		return string(plaintext), nil
	}

	var err error
	if profile.FirstName, err = decrypt(user.FirstNameEnc); err != nil {
		return nil, err
	}
	if profile.LastName, err = decrypt(user.LastNameEnc); err != nil {
		return nil, err
	}
	if profile.Email, err = decrypt(user.EmailEnc); err != nil {
		return nil, err
	}
	if profile.Phone, err = decrypt(user.PhoneEnc); err != nil {
		return nil, err
	}

	if meta.ActorRole.CanReadPlaintextPII() {
		if profile.DateOfBirth, err = decrypt(user.DOBEnc); err != nil {
			return nil, err
		}
		s.audit(ctx, models.NewUserAudit(models.UserAuditPIIRead).SetUser(user.ID), meta)
		return profile, nil
	}

	profile.Email = models.MaskEmail(profile.Email)
	profile.Phone = models.MaskPhone(profile.Phone)
	profile.Redacted = true
	s.audit(ctx, models.NewUserAudit(models.UserAuditPIIReadRedacted).SetUser(user.ID), meta)
	return profile, nil
}

func (s *IdentityService) stageUserEvent(ctx context.Context, tx *sqlx.Tx, eventType, referenceID string, payload map[string]interface{}, meta RequestMeta) error {
	return s.stageEvent(ctx, tx, models.AggregateUser, referenceID, eventType, payload, meta)
}

func (s *IdentityService) stageEvent(ctx context.Context, tx *sqlx.Tx, aggregateType, aggregateID, eventType string, payload map[string]interface{}, meta RequestMeta) error {
	event := &models.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       models.JSONB(payload),
	}
	if meta.CorrelationID != "" {
		event.CorrelationID = &meta.CorrelationID
	}
	return s.outbox.StageTx(ctx, tx, event)
}

// audit writes an audit row; failure is logged, never propagated, so
// audit outages cannot block identity operations that already committed.
func (s *IdentityService) audit(ctx context.Context, entry *models.UserAudit, meta RequestMeta) {
	entry.SetActor(meta.ActorID, string(meta.ActorRole)).
		SetMetadata(meta.CorrelationID, meta.SessionID, meta.IPAddress, meta.UserAgent)
	if err := s.audits.Log(ctx, entry); err != nil {
		s.logger.WithError(err).Error("Failed to write identity audit entry")
	}
}
