package store

import (
	"context"
	"testing"

	"automove/internal/domain"
)

func TestParseField(t *testing.T) {
	cases := map[string]Field{
		"waiting-user":  FieldWaitingUser,
		"waiting_staff": FieldWaitingStaff,
		"WaitingUser":   FieldWaitingUser,
		"closing":       FieldClosing,
		"Recruitment":   FieldRecruitment,
	}
	for in, want := range cases {
		got, err := ParseField(in)
		if err != nil {
			t.Errorf("ParseField(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseField(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := ParseField("archive"); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestCategories_LoadDefaultsToUnset(t *testing.T) {
	ctx := context.Background()
	cats := NewCategories(NewMemoryStore(""))
	if err := cats.EnsureDefaults(ctx); err != nil {
		t.Fatal(err)
	}
	cfg, err := cats.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != (domain.CategoryConfig{}) {
		t.Errorf("expected all unset, got %+v", cfg)
	}
}

func TestCategories_SetAndLoad(t *testing.T) {
	ctx := context.Background()
	cats := NewCategories(NewMemoryStore(""))

	cats.Set(ctx, FieldWaitingUser, "A")
	cats.Set(ctx, FieldWaitingStaff, " B ")
	cats.Set(ctx, FieldClosing, "C")
	cats.Set(ctx, FieldRecruitment, "R")

	cfg, err := cats.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.CategoryConfig{WaitingUser: "A", WaitingStaff: "B", Closing: "C", Recruitment: "R"}
	if cfg != want {
		t.Errorf("got %+v, want %+v", cfg, want)
	}

	cats.Set(ctx, FieldClosing, "")
	if _, ok, _ := cats.Get(ctx, FieldClosing); ok {
		t.Error("expected closing to be cleared")
	}
}

func TestCategories_UnknownField(t *testing.T) {
	cats := NewCategories(NewMemoryStore(""))
	if err := cats.Set(context.Background(), Field("bogus"), "1"); err == nil {
		t.Error("expected error for unknown field")
	}
}
