package validator

import (
	"testing"
)

func TestDetailsForm_Validate(t *testing.T) {
	t.Run("requires a full name", func(t *testing.T) {
		f := DetailsForm{}
		errs := FieldErrors(f.Validate())
		if _, ok := errs["name"]; !ok {
			t.Errorf("Expected name error, got %v", errs)
		}
	})

	t.Run("requires an email address", func(t *testing.T) {
		f := DetailsForm{Name: "Test User"}
		errs := FieldErrors(f.Validate())
		if _, ok := errs["name"]; ok {
			t.Errorf("Unexpected name error: %v", errs)
		}
		if _, ok := errs["email"]; !ok {
			t.Errorf("Expected email error, got %v", errs)
		}
	})

	t.Run("accepts complete details", func(t *testing.T) {
		f := DetailsForm{Name: " Jane Doe ", Email: " Jane@Example.com ", Mobile: "07400 123456"}
		f.Normalize()
		if err := f.Validate(); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if f.Email != "jane@example.com" {
			t.Errorf("Expected lowercased email, got %s", f.Email)
		}
	})

	t.Run("rejects a malformed mobile", func(t *testing.T) {
		f := DetailsForm{Name: "Jane", Email: "jane@example.com", Mobile: "not-a-number"}
		errs := FieldErrors(f.Validate())
		if _, ok := errs["mobile"]; !ok {
			t.Errorf("Expected mobile error, got %v", errs)
		}
	})
}

func TestSuitForm_Validate(t *testing.T) {
	f := SuitForm{}
	errs := FieldErrors(f.Validate())
	if _, ok := errs["defendant_name"]; !ok {
		t.Errorf("Expected defendant_name error, got %v", errs)
	}

	f = SuitForm{DefendantName: "John Doe"}
	if err := f.Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"07400 123456", "+447400123456", false},
		{"+44 7400 123456", "+447400123456", false},
		{"12", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
