package model

import (
	"errors"
	"testing"
)

func TestNormalizeEmail_TrimsAndLowercases(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a@b.com", "a@b.com"},
		{"  A@B.Com  ", "a@b.com"},
		{"\tUser@Example.COM\n", "user@example.com"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlan_IsPaidAndValid(t *testing.T) {
	tests := []struct {
		plan  Plan
		paid  bool
		valid bool
	}{
		{PlanFree, false, true},
		{PlanPremium, true, true},
		{PlanPremiumPlus, true, true},
		{Plan("enterprise"), false, false},
		{Plan(""), false, false},
	}

	for _, tt := range tests {
		if got := tt.plan.IsPaid(); got != tt.paid {
			t.Errorf("%q.IsPaid() = %v, want %v", tt.plan, got, tt.paid)
		}
		if got := tt.plan.Valid(); got != tt.valid {
			t.Errorf("%q.Valid() = %v, want %v", tt.plan, got, tt.valid)
		}
	}
}

func TestDailyLimitError_UnwrapsToAPIError(t *testing.T) {
	var err error = NewDailyLimitError(10, PlanFree)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatal("DailyLimitError should unwrap to *APIError")
	}
	if apiErr.Code != ErrCodeDailyLimitReached {
		t.Errorf("Code = %q, want %q", apiErr.Code, ErrCodeDailyLimitReached)
	}

	var limitErr *DailyLimitError
	if !errors.As(err, &limitErr) {
		t.Fatal("expected errors.As to find *DailyLimitError")
	}
	if limitErr.DailyLimit != 10 || limitErr.Plan != PlanFree {
		t.Errorf("got limit=%d plan=%q, want 10/free", limitErr.DailyLimit, limitErr.Plan)
	}
}
