package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// AddAddress vaults a new address for a user. The first address becomes
// primary automatically; an explicit primary demotes the previous one.
func (s *IdentityService) AddAddress(ctx context.Context, referenceID string, input AddressInput, meta RequestMeta) (*models.AddressProfile, error) {
	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if !input.Type.Valid() {
		return nil, errs.New(errs.KindValidation, "INVALID_ADDRESS_TYPE", "address type must be HOME, WORK or OTHER")
	}
	if input.Line1 == "" || input.City == "" || input.Country == "" {
		return nil, errs.New(errs.KindValidation, "INVALID_ADDRESS", "line1, city and country are required")
	}

	address := &models.Address{
		UserID:    user.ID,
		Type:      input.Type,
		IsPrimary: input.IsPrimary,
	}
	for _, f := range []struct {
		plaintext string
		dst       *string
	}{
		{input.Line1, &address.Line1Enc},
		{input.Line2, &address.Line2Enc},
		{input.City, &address.CityEnc},
		{input.Postal, &address.PostalEnc},
		{input.Country, &address.CountryEnc},
	} {
		ct, err := s.provider.Encrypt(ctx, s.piiKey, []byte(f.plaintext))
		if err != nil {
			return nil, err
		}
		*f.dst = ct
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin address transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.addresses.CreateTx(ctx, tx, address); err != nil {
		return nil, err
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserAddressAdded, referenceID, map[string]interface{}{
		"referenceId": referenceID,
		"addressId":   address.ID.String(),
		"type":        address.Type,
		"isPrimary":   address.IsPrimary,
	}, meta); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit address: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditAddressAdded).SetUser(user.ID).
		SetDetail(map[string]interface{}{"address_id": address.ID.String()}), meta)

	return &models.AddressProfile{
		ID:        address.ID,
		Type:      address.Type,
		Line1:     input.Line1,
		Line2:     input.Line2,
		City:      input.City,
		Postal:    input.Postal,
		Country:   input.Country,
		IsPrimary: address.IsPrimary,
		CreatedAt: address.CreatedAt,
	}, nil
}

// ListAddresses decrypts a user's addresses, primary first
func (s *IdentityService) ListAddresses(ctx context.Context, referenceID string, meta RequestMeta) ([]*models.AddressProfile, error) {
	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	addresses, err := s.addresses.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	profiles := make([]*models.AddressProfile, 0, len(addresses))
	for _, address := range addresses {
		profile, err := s.decryptAddress(ctx, address)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// UpdateAddress re-encrypts an existing address
func (s *IdentityService) UpdateAddress(ctx context.Context, referenceID string, addressID uuid.UUID, input AddressInput, meta RequestMeta) error {
	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return err
	}
	if !input.Type.Valid() {
		return errs.New(errs.KindValidation, "INVALID_ADDRESS_TYPE", "address type must be HOME, WORK or OTHER")
	}

	address := &models.Address{ID: addressID, UserID: user.ID, Type: input.Type}
	for _, f := range []struct {
		plaintext string
		dst       *string
	}{
		{input.Line1, &address.Line1Enc},
		{input.Line2, &address.Line2Enc},
		{input.City, &address.CityEnc},
		{input.Postal, &address.PostalEnc},
		{input.Country, &address.CountryEnc},
	} {
		ct, err := s.provider.Encrypt(ctx, s.piiKey, []byte(f.plaintext))
		if err != nil {
			return err
		}
		*f.dst = ct
	}

	if err := s.addresses.Update(ctx, address); err != nil {
		return err
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditAddressUpdated).SetUser(user.ID).
		SetDetail(map[string]interface{}{"address_id": addressID.String()}), meta)
	return nil
}

// SetPrimaryAddress promotes one address to primary
func (s *IdentityService) SetPrimaryAddress(ctx context.Context, referenceID string, addressID uuid.UUID, meta RequestMeta) error {
	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin primary transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.addresses.SetPrimaryTx(ctx, tx, user.ID, addressID); err != nil {
		return errs.Wrap(err, errs.KindNotFound, "ADDRESS_NOT_FOUND", "address not found")
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserAddressUpdated, referenceID, map[string]interface{}{
		"referenceId": referenceID,
		"addressId":   addressID.String(),
		"isPrimary":   true,
	}, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit primary change: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditPrimaryChanged).SetUser(user.ID).
		SetDetail(map[string]interface{}{"address_id": addressID.String()}), meta)
	return nil
}

// DeleteAddress removes an address, promoting a replacement primary
// when the deleted one was primary.
func (s *IdentityService) DeleteAddress(ctx context.Context, referenceID string, addressID uuid.UUID, meta RequestMeta) error {
	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.addresses.DeleteTx(ctx, tx, user.ID, addressID); err != nil {
		return errs.Wrap(err, errs.KindNotFound, "ADDRESS_NOT_FOUND", "address not found")
	}
	if err := s.stageUserEvent(ctx, tx, models.EventUserAddressDeleted, referenceID, map[string]interface{}{
		"referenceId": referenceID,
		"addressId":   addressID.String(),
	}, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditAddressDeleted).SetUser(user.ID).
		SetDetail(map[string]interface{}{"address_id": addressID.String()}), meta)
	return nil
}

// RecordConsent upserts a consent decision and stages the matching event
func (s *IdentityService) RecordConsent(ctx context.Context, referenceID string, input ConsentInput, meta RequestMeta) error {
	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return err
	}
	if input.ConsentKey == "" {
		return errs.New(errs.KindValidation, "INVALID_CONSENT_KEY", "consent key is required")
	}

	consent := &models.Consent{
		UserID:         user.ID,
		ConsentKey:     input.ConsentKey,
		Granted:        input.Granted,
		ConsentVersion: input.ConsentVersion,
		Source:         input.Source,
		LegalBasis:     input.LegalBasis,
	}
	if meta.IPAddress != "" {
		consent.IPAddress = &meta.IPAddress
	}
	if meta.UserAgent != "" {
		consent.UserAgent = &meta.UserAgent
	}

	eventType := models.EventConsentGranted
	auditType := models.UserAuditConsentGranted
	if !input.Granted {
		eventType = models.EventConsentWithdrawn
		auditType = models.UserAuditConsentWithdrawn
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin consent transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.consents.UpsertTx(ctx, tx, consent); err != nil {
		return err
	}
	if err := s.stageEvent(ctx, tx, models.AggregateConsent, referenceID, eventType, map[string]interface{}{
		"referenceId":    referenceID,
		"consentKey":     input.ConsentKey,
		"granted":        input.Granted,
		"consentVersion": input.ConsentVersion,
	}, meta); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit consent: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(auditType).SetUser(user.ID).
		SetDetail(map[string]interface{}{"consent_key": input.ConsentKey, "granted": input.Granted}), meta)
	return nil
}

// ListConsents returns every consent decision for a user
func (s *IdentityService) ListConsents(ctx context.Context, referenceID string, meta RequestMeta) ([]*models.Consent, error) {
	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	return s.consents.ListByUser(ctx, user.ID)
}

func (s *IdentityService) activeUser(ctx context.Context, referenceID string) (*models.User, error) {
	user, err := s.users.GetByReferenceID(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errs.New(errs.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	if user.Anonymized {
		return nil, errs.New(errs.KindInconsistentState, "USER_ANONYMIZED", "user has been anonymized")
	}
	return user, nil
}

func (s *IdentityService) decryptAddress(ctx context.Context, address *models.Address) (*models.AddressProfile, error) {
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

	profile := &models.AddressProfile{
		ID:        address.ID,
		Type:      address.Type,
		IsPrimary: address.IsPrimary,
		CreatedAt: address.CreatedAt,
	}
	var err error
	if profile.Line1, err = decrypt(address.Line1Enc); err != nil {
		return nil, err
	}
	if profile.Line2, err = decrypt(address.Line2Enc); err != nil {
		return nil, err
	}
	if profile.City, err = decrypt(address.CityEnc); err != nil {
		return nil, err
	}
	if profile.Postal, err = decrypt(address.PostalEnc); err != nil {
		return nil, err
	}
	if profile.Country, err = decrypt(address.CountryEnc); err != nil {
		return nil, err
	}
	return profile, nil
}
