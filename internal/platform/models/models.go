package models

import "strings"

const (
	RoleAdmin = "admin"
	RoleUser  = "USER"
)

type User struct {
	ID             string  `json:"id"`
	IssuerID       *string `json:"issuer_id,omitempty"`
	SubjectID      *string `json:"subject_id,omitempty"`
	Email          *string `json:"email,omitempty"`
	Name           *string `json:"name,omitempty"`
	Mobile         *string `json:"mobile,omitempty"`
	Active         bool    `json:"active"`
	CanAcceptSuits bool    `json:"can_accept_suits"`
	IsSuperadmin   bool    `json:"is_superadmin"`
	CreatedAt      int64   `json:"created_at"`
	UpdatedAt      int64   `json:"updated_at"`

	Roles []string `json:"roles,omitempty"`
}

func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Suit struct {
	ID               string  `json:"id"`
	PlaintiffID      string  `json:"plaintiff_id"`
	DefendantID      string  `json:"defendant_id"`
	CreatedAt        int64   `json:"created_at"`
	ConfirmedAt      *int64  `json:"confirmed_at,omitempty"`
	AcceptedAt       *int64  `json:"accepted_at,omitempty"`
	PaymentReference *string `json:"payment_reference,omitempty"`

	Plaintiff *User    `json:"plaintiff,omitempty"`
	Defendant *User    `json:"defendant,omitempty"`
	Payment   *Payment `json:"payment,omitempty"`
}

type Payment struct {
	Reference   string `json:"reference"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	Finished    bool   `json:"finished"`
	StatusMsg   string `json:"status_msg"`
	SelfURL     string `json:"-"`
	NextURL     string `json:"next_url,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

const PaymentStatusSuccess = "success"

// Succeeded reports whether the provider has reported a terminal success.
func (p *Payment) Succeeded() bool {
	return p.Finished && p.Status == PaymentStatusSuccess
}

type AuditLog struct {
	ID           string  `json:"id"`
	ActorID      *string `json:"actor_id,omitempty"`
	Action       string  `json:"action"`
	ResourceType string  `json:"resource_type"`
	ResourceID   string  `json:"resource_id"`
	Metadata     string  `json:"metadata"`
	IPAddress    string  `json:"ip_address"`
	UserAgent    string  `json:"user_agent"`
	CreatedAt    int64   `json:"created_at"`
}

// Str returns the value of a nullable column or "".
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// NullStr maps blank strings to NULL.
func NullStr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
