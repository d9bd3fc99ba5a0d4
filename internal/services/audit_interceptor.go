package services

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"paylink_backend/internal/models"
	"paylink_backend/pkg/apperrors"
)

// FieldChange is one entry of a shallow diff.
type FieldChange struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// ignoredDiffFields change on every write and carry no forensic value.
var ignoredDiffFields = map[string]bool{
	"updatedAt": true,
}

var auditableEntities = map[models.EntityType]bool{
	models.EntityTransaction:      true,
	models.EntityPaymentLink:      true,
	models.EntityPayout:           true,
	models.EntityFiatVerification: true,
}

// AuditInterceptor audits create/update/delete of the auditable entities
// after the primary mutation has been persisted.
type AuditInterceptor interface {
	Created(ctx context.Context, entityType models.EntityType, entityID string, after interface{}) error
	Updated(ctx context.Context, entityType models.EntityType, entityID string, action models.AuditAction, before, after interface{}, metadata interface{}) error
	Deleted(ctx context.Context, entityType models.EntityType, entityID string, before interface{}) error
}

type auditInterceptor struct {
	audit AuditService
}

func NewAuditInterceptor(audit AuditService) AuditInterceptor {
	return &auditInterceptor{audit: audit}
}

func (i *auditInterceptor) Created(ctx context.Context, entityType models.EntityType, entityID string, after interface{}) error {
	if err := checkAuditable(entityType); err != nil {
		return apperrors.AuditWriteError(err)
	}
	snapshot, err := Diff(nil, after)
	if err != nil {
		return apperrors.AuditWriteError(err)
	}
	_, err = i.audit.Record(ctx, entityType, entityID, models.ActionCreate, snapshot, nil)
	return err
}

// Updated writes one entry carrying the shallow diff. An update that changed
// nothing writes nothing. An empty action defaults to UPDATE.
func (i *auditInterceptor) Updated(ctx context.Context, entityType models.EntityType, entityID string, action models.AuditAction, before, after interface{}, metadata interface{}) error {
	if err := checkAuditable(entityType); err != nil {
		return apperrors.AuditWriteError(err)
	}
	changes, err := Diff(before, after)
	if err != nil {
		return apperrors.AuditWriteError(err)
	}
	if len(changes) == 0 {
		return nil
	}
	if action == "" {
		action = models.ActionUpdate
	}
	_, err = i.audit.Record(ctx, entityType, entityID, action, changes, metadata)
	return err
}

func (i *auditInterceptor) Deleted(ctx context.Context, entityType models.EntityType, entityID string, before interface{}) error {
	if err := checkAuditable(entityType); err != nil {
		return apperrors.AuditWriteError(err)
	}
	changes, err := Diff(before, nil)
	if err != nil {
		return apperrors.AuditWriteError(err)
	}
	_, err = i.audit.Record(ctx, entityType, entityID, models.ActionDelete, changes, nil)
	return err
}

func checkAuditable(entityType models.EntityType) error {
	if !auditableEntities[entityType] {
		return fmt.Errorf("entity type %q is not audited", entityType)
	}
	return nil
}

// Diff compares the top-level JSON fields of before and after. A nil side
// counts as an empty object, so create and delete produce full snapshots.
func Diff(before, after interface{}) (map[string]FieldChange, error) {
	b, err := flatten(before)
	if err != nil {
		return nil, err
	}
	a, err := flatten(after)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]FieldChange)
	for key, av := range a {
		if ignoredDiffFields[key] {
			continue
		}
		bv, ok := b[key]
		if !ok || !reflect.DeepEqual(bv, av) {
			changes[key] = FieldChange{From: bv, To: av}
		}
	}
	for key, bv := range b {
		if ignoredDiffFields[key] {
			continue
		}
		if _, ok := a[key]; !ok {
			changes[key] = FieldChange{From: bv, To: nil}
		}
	}
	return changes, nil
}

func flatten(v interface{}) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if v == nil {
		return out, nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return out, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("audit diff needs an object: %w", err)
	}
	return out, nil
}
