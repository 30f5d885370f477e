package etl

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ── Record Validator ───────────────────────────────────────
// The single quality gate before a record may be written. Schema rules
// are expressed as struct tags; customer_id is declared optional but any
// empty value is rejected by a separate business rule.

// IssueRecord is the typed, validated view of a transformed issue.
type IssueRecord struct {
	ID            string         `json:"id" validate:"required"`
	Self          string         `json:"self" validate:"required"`
	Key           string         `json:"key" validate:"required"`
	Changelog     map[string]any `json:"changelog" validate:"required"`
	Fields        map[string]any `json:"fields" validate:"required"`
	Updated       time.Time      `json:"updated" validate:"required"`
	Created       time.Time      `json:"created" validate:"required"`
	CustomerID    *string        `json:"customer_id"`
	PartitionDate string         `json:"partition_date" validate:"required,datetime=2006-01-02"`
}

// TimestampLayouts are the accepted encodings of updated/created.
var TimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700", // Jira Cloud
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05",
}

// IssueValidator checks transformed records.
type IssueValidator struct {
	validate *validator.Validate
}

// NewIssueValidator builds a validator using json tag names in messages.
func NewIssueValidator() *IssueValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &IssueValidator{validate: v}
}

// Validate converts r into an IssueRecord or explains why it cannot be accepted.
// It never mutates r.
func (v *IssueValidator) Validate(r Record) (*IssueRecord, error) {
	key := r.Key()
	rec := &IssueRecord{}

	var err error
	if rec.ID, err = optionalString(r, key, "id"); err != nil {
		return nil, err
	}
	if rec.Self, err = optionalString(r, key, "self"); err != nil {
		return nil, err
	}
	if rec.Key, err = optionalString(r, key, "key"); err != nil {
		return nil, err
	}
	if rec.Changelog, err = optionalMap(r, key, "changelog"); err != nil {
		return nil, err
	}
	if rec.Fields, err = optionalMap(r, key, "fields"); err != nil {
		return nil, err
	}
	if rec.Updated, err = optionalTime(r, key, "updated"); err != nil {
		return nil, err
	}
	if rec.Created, err = optionalTime(r, key, "created"); err != nil {
		return nil, err
	}
	if rec.PartitionDate, err = optionalString(r, key, "partition_date"); err != nil {
		return nil, err
	}

	if err := v.validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			reason := fmt.Sprintf("`%s` failed %q on field %s", key, fe.Tag(), fe.Field())
			if fe.Tag() == "required" {
				reason = fmt.Sprintf("`%s` is missing required field %s", key, fe.Field())
			}
			return nil, &ValidationError{Key: key, Field: fe.Field(), Reason: reason}
		}
		return nil, &ValidationError{Key: key, Reason: err.Error()}
	}

	// Business rule: customer_id must be present and non-empty.
	raw, present := r.Data["customer_id"]
	cid, isString := raw.(string)
	switch {
	case !present || raw == nil || (isString && cid == ""):
		return nil, &ValidationError{
			Key:    key,
			Field:  "customer_id",
			Reason: fmt.Sprintf("`%s` contains an empty customer_id", key),
			Err:    ErrEmptyCustomerID,
		}
	case !isString:
		return nil, &ValidationError{Key: key, Field: "customer_id", Reason: fmt.Sprintf("`%s` customer_id must be a string, got %T", key, raw)}
	}
	rec.CustomerID = &cid
	return rec, nil
}

func optionalString(r Record, key, field string) (string, error) {
	raw, ok := r.Data[field]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ValidationError{Key: key, Field: field, Reason: fmt.Sprintf("`%s` field %s must be a string, got %T", key, field, raw)}
	}
	return s, nil
}

func optionalMap(r Record, key, field string) (map[string]any, error) {
	raw, ok := r.Data[field]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, &ValidationError{Key: key, Field: field, Reason: fmt.Sprintf("`%s` field %s must be an object, got %T", key, field, raw)}
	}
	return m, nil
}

func optionalTime(r Record, key, field string) (time.Time, error) {
	raw, ok := r.Data[field]
	if !ok || raw == nil {
		return time.Time{}, nil
	}
	switch t := raw.(type) {
	case time.Time:
		return t, nil
	case string:
		if ts, err := ParseTimestamp(t); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &ValidationError{Key: key, Field: field, Reason: fmt.Sprintf("`%s` field %s is not a valid timestamp: %v", key, field, raw)}
}

// ParseTimestamp parses any of TimestampLayouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range TimestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
