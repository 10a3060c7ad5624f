package validator

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// DetailsForm carries the plaintiff's own details.
type DetailsForm struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Mobile string `json:"mobile"`
}

func (f *DetailsForm) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Mobile = strings.TrimSpace(f.Mobile)
}

func (f DetailsForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required.Error("Your Full Name is required"), validation.Length(1, 200)),
		validation.Field(&f.Email, validation.Required.Error("Your Email Address is required"), is.Email),
		validation.Field(&f.Mobile, validation.By(PhoneRule)),
	)
}

// SuitForm names the defendant.
type SuitForm struct {
	DefendantName   string `json:"defendant_name"`
	DefendantMobile string `json:"defendant_mobile"`
}

func (f *SuitForm) Normalize() {
	f.DefendantName = strings.TrimSpace(f.DefendantName)
	f.DefendantMobile = strings.TrimSpace(f.DefendantMobile)
}

func (f SuitForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.DefendantName, validation.Required.Error("Your Brother's Full Name is required"), validation.Length(1, 200)),
		validation.Field(&f.DefendantMobile, validation.By(PhoneRule)),
	)
}

// AdminUserForm is the staff edit of another user. Empty strings leave the
// field unchanged.
type AdminUserForm struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Mobile         string `json:"mobile"`
	Admin          *bool  `json:"admin"`
	SuperAdmin     *bool  `json:"superadmin"`
	CanAcceptSuits *bool  `json:"accept_suits"`
}

func (f *AdminUserForm) Normalize() {
	f.Name = strings.TrimSpace(f.Name)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	f.Mobile = strings.TrimSpace(f.Mobile)
}

func (f AdminUserForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Email, is.Email),
		validation.Field(&f.Mobile, validation.By(PhoneRule)),
	)
}

// FieldErrors flattens validation.Errors into field -> message for the
// JSON error envelope. Any other error is reported under "form".
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}
	errs, ok := err.(validation.Errors)
	if !ok {
		out["form"] = err.Error()
		return out
	}
	for field, fieldErr := range errs {
		if fieldErr != nil {
			out[field] = fieldErr.Error()
		}
	}
	return out
}
