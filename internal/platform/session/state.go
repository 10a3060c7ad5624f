package session

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Profile is the soft identity captured from the details form before the
// visitor has logged in.
type Profile struct {
	Email  string `json:"email,omitempty"`
	Mobile string `json:"mobile,omitempty"`
	Name   string `json:"name,omitempty"`
}

func (p *Profile) Empty() bool {
	return p == nil || (p.Email == "" && p.Mobile == "" && p.Name == "")
}

// State is everything remembered about one browser session.
type State struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id,omitempty"`
	IssuedAt int64  `json:"iat,omitempty"`

	Profile *Profile `json:"profile,omitempty"`

	// Payments maps a correlation uid to the payment reference it was
	// issued for.
	Payments map[string]string `json:"payments,omitempty"`

	Next          string `json:"next,omitempty"`
	StepUpPending bool   `json:"step_up_pending,omitempty"`

	AuthState  string `json:"auth_state,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	ForceLogin bool   `json:"force_login,omitempty"`
}

func New() *State {
	return &State{ID: uuid.NewString()}
}

func (s *State) Authenticated() bool {
	return s.UserID != ""
}

func (s *State) SetPayment(uid, reference string) {
	if s.Payments == nil {
		s.Payments = make(map[string]string)
	}
	s.Payments[uid] = reference
}

func (s *State) PaymentReference(uid string) (string, bool) {
	ref, ok := s.Payments[uid]
	return ref, ok
}

func (s *State) ForgetPayment(uid string) {
	delete(s.Payments, uid)
}

// ClearLogin drops the authenticated user and step-up timestamp but keeps
// correlation tokens so an in-flight payment can still be confirmed.
func (s *State) ClearLogin() {
	s.UserID = ""
	s.IssuedAt = 0
	s.AuthState = ""
	s.Nonce = ""
}

// Validate drops anything that could not have been written by this service.
func (s *State) Validate() {
	if s.IssuedAt < 0 || s.UserID == "" {
		s.IssuedAt = 0
	}

	for uid, ref := range s.Payments {
		if _, err := uuid.Parse(uid); err != nil || ref == "" {
			delete(s.Payments, uid)
		}
	}

	if s.Profile.Empty() {
		s.Profile = nil
	}

	s.Next = SanitizeNext(s.Next)
	if s.Next == "" {
		s.StepUpPending = false
	}
}

// SanitizeNext keeps only the path and query of a redirect target so it can
// never leave this site.
func SanitizeNext(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, `\`) {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	// Browsers read "//host" and "/\host" as another origin.
	p := u.Path
	if !strings.HasPrefix(p, "/") || strings.ContainsRune(p, '\\') {
		return ""
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == '\\') {
		return ""
	}

	out := u.EscapedPath()
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}
