package services

import (
	"context"
	"fmt"
	"time"

	"github.com/treasuretrails/payments-backend/internal/models"
	"github.com/treasuretrails/payments-backend/pkg/errs"
)

// UserDataExport bundles everything the vault holds about one person:
// the decrypted profile, every address and the full consent history.
type UserDataExport struct {
	Profile    *models.UserProfile      `json:"profile"`
	Addresses  []*models.AddressProfile `json:"addresses"`
	Consents   []*models.Consent        `json:"consents"`
	ExportedAt time.Time                `json:"exported_at"`
}

// ExportUserData assembles a data-subject access bundle. Exports are
// always plaintext, so only roles cleared for unredacted PII may call
// this; everything else is refused and the refusal is audited.
func (s *IdentityService) ExportUserData(ctx context.Context, referenceID string, meta RequestMeta) (*UserDataExport, error) {
	if !meta.ActorRole.CanReadPlaintextPII() {
		s.audit(ctx, models.NewUserAudit(models.UserAuditAccessDenied).
			SetDetail(map[string]interface{}{"operation": "export", "reference_id": referenceID}), meta)
		return nil, errs.New(errs.KindPermissionDenied, "EXPORT_FORBIDDEN", "role is not permitted to export user data")
	}

	user, err := s.activeUser(ctx, referenceID)
	if err != nil {
		return nil, err
	}

	profile, err := s.project(ctx, user, meta)
	if err != nil {
		return nil, err
	}
	addresses, err := s.ListAddresses(ctx, referenceID, meta)
	if err != nil {
		return nil, err
	}
	consents, err := s.consents.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	export := &UserDataExport{
		Profile:    profile,
		Addresses:  addresses,
		Consents:   consents,
		ExportedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin export transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.stageEvent(ctx, tx, models.AggregateUser, referenceID, models.EventGDPRDataExported, map[string]interface{}{
		"referenceId": referenceID,
		"exportedAt":  export.ExportedAt.Format(time.RFC3339),
		"requestedBy": meta.ActorID,
	}, meta); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit export event: %w", err)
	}

	s.audit(ctx, models.NewUserAudit(models.UserAuditDataExported).SetUser(user.ID).
		SetDetail(map[string]interface{}{"addresses": len(addresses), "consents": len(consents)}), meta)
	return export, nil
}
