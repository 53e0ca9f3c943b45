package store

import (
	"context"
	"fmt"
	"strings"

	"automove/internal/domain"
)

// Field names one of the four category settings.
type Field string

const (
	FieldWaitingUser  Field = "waiting-user"
	FieldWaitingStaff Field = "waiting-staff"
	FieldClosing      Field = "closing"
	FieldRecruitment  Field = "recruitment"
)

// Fields lists every category setting in display order.
var Fields = []Field{FieldWaitingUser, FieldWaitingStaff, FieldClosing, FieldRecruitment}

// Storage keys. These match the keys written by earlier deployments, keep them stable.
const (
	KeyWaitingUser  = "waiting_user_message_category_id"
	KeyWaitingStaff = "waiting_staff_message_category_id"
	KeyClosing      = "closing_category_id"
	KeyRecruitment  = "recruitment_id"
)

// CategoryKeys is the key set ensured on every start.
var CategoryKeys = []string{KeyWaitingUser, KeyWaitingStaff, KeyClosing, KeyRecruitment}

func (f Field) Key() string {
	switch f {
	case FieldWaitingUser:
		return KeyWaitingUser
	case FieldWaitingStaff:
		return KeyWaitingStaff
	case FieldClosing:
		return KeyClosing
	case FieldRecruitment:
		return KeyRecruitment
	}
	return ""
}

func (f Field) Label() string {
	switch f {
	case FieldWaitingUser:
		return "Waiting on user"
	case FieldWaitingStaff:
		return "Waiting on staff"
	case FieldClosing:
		return "Closing"
	case FieldRecruitment:
		return "Recruitment"
	}
	return string(f)
}

// ParseField accepts the field name with dashes, underscores or no separator.
func ParseField(s string) (Field, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	for _, f := range Fields {
		if strings.ReplaceAll(string(f), "-", "") == norm {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown category field %q (want one of: waiting-user, waiting-staff, closing, recruitment)", s)
}

// Categories is the typed view over the four category keys.
type Categories struct {
	kv domain.ConfigStore
}

func NewCategories(kv domain.ConfigStore) *Categories {
	return &Categories{kv: kv}
}

// EnsureDefaults creates the four keys as unset where missing. Safe to call on every start.
func (c *Categories) EnsureDefaults(ctx context.Context) error {
	return c.kv.EnsureDefaults(ctx, CategoryKeys)
}

func (c *Categories) Load(ctx context.Context) (domain.CategoryConfig, error) {
	var cfg domain.CategoryConfig
	for _, f := range Fields {
		v, _, err := c.kv.Get(ctx, f.Key())
		if err != nil {
			return domain.CategoryConfig{}, err
		}
		switch f {
		case FieldWaitingUser:
			cfg.WaitingUser = v
		case FieldWaitingStaff:
			cfg.WaitingStaff = v
		case FieldClosing:
			cfg.Closing = v
		case FieldRecruitment:
			cfg.Recruitment = v
		}
	}
	return cfg, nil
}

func (c *Categories) Get(ctx context.Context, f Field) (string, bool, error) {
	if f.Key() == "" {
		return "", false, fmt.Errorf("unknown category field %q", f)
	}
	return c.kv.Get(ctx, f.Key())
}

// Set stores a category id; an empty id clears the setting.
func (c *Categories) Set(ctx context.Context, f Field, id string) error {
	if f.Key() == "" {
		return fmt.Errorf("unknown category field %q", f)
	}
	return c.kv.Set(ctx, f.Key(), strings.TrimSpace(id))
}
