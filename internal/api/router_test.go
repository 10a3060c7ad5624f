package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"suemybrother/internal/api/handlers"
	"suemybrother/internal/api/middleware"
	"suemybrother/internal/engine/identity"
	"suemybrother/internal/engine/payments"
	"suemybrother/internal/engine/stepup"
	"suemybrother/internal/engine/suits"
	"suemybrother/internal/platform/audit"
	"suemybrother/internal/platform/auth"
	"suemybrother/internal/platform/config"
	"suemybrother/internal/platform/database"
	"suemybrother/internal/platform/database/dbtest"
	"suemybrother/internal/platform/models"
	"suemybrother/internal/platform/oidc"
	"suemybrother/internal/platform/pay"
	"suemybrother/internal/platform/repositories"
	"suemybrother/internal/platform/session"
)

type fakeIdP struct {
	mu     sync.Mutex
	claims oidc.Claims
	forced bool
}

func (f *fakeIdP) AuthCodeURL(_ context.Context, state, nonce string, force bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = force
	return "https://idp.example/authorize?state=" + url.QueryEscape(state), nil
}

func (f *fakeIdP) Authenticate(_ context.Context, code, nonce string) (*oidc.Claims, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.claims
	return &c, nil
}

func (f *fakeIdP) wasForced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forced
}

type fakePay struct {
	mu        sync.Mutex
	returnURL string
	status    string
	finished  bool
}

func (f *fakePay) CreatePayment(_ context.Context, amount int64, description, returnURL, reference string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returnURL = returnURL
	return &models.Payment{
		Reference:   reference,
		Amount:      amount,
		Description: description,
		Status:      "created",
		SelfURL:     "https://pay.example/v1/payments/" + reference,
		NextURL:     "https://pay.example/secure/" + reference,
		CreatedAt:   time.Now().Unix(),
	}, nil
}

func (f *fakePay) Status(_ context.Context, selfURL string) (*pay.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &pay.Response{}
	r.State.Status = f.status
	r.State.Finished = f.finished
	return r, nil
}

func (f *fakePay) lastReturnURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.returnURL
}

func (f *fakePay) succeed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.finished = models.PaymentStatusSuccess, true
}

type countingNotifier struct {
	mu    sync.Mutex
	sms   int
	email int
}

func (n *countingNotifier) SendSMS(context.Context, string, string, map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sms++
	return nil
}

func (n *countingNotifier) SendEmail(context.Context, string, string, map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.email++
	return nil
}

func (n *countingNotifier) counts() (sms, email int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sms, n.email
}

type harness struct {
	srv      *httptest.Server
	db       *database.DB
	users    *repositories.UserRepository
	suits    *suits.Service
	idp      *fakeIdP
	pay      *fakePay
	notifier *countingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := dbtest.New(t)
	users := repositories.NewUserRepository(db)
	suitRepo := repositories.NewSuitRepository(db)
	payRepo := repositories.NewPaymentRepository(db)

	sessCfg := config.SessionConfig{Secret: "test-secret", CookieName: "smb_session", TTL: time.Hour, SameSite: "lax"}
	sessions := session.NewManager(session.NewMemoryStore(time.Hour), auth.NewTokenService(sessCfg), sessCfg)

	resolver := identity.NewResolver(db, users)
	notifier := &countingNotifier{}
	suitSvc := suits.NewService(db, users, suitRepo, payRepo, resolver, notifier)
	fp := &fakePay{}
	engine := payments.NewEngine(db, fp, suitSvc, suitRepo, payRepo, 100)
	gate := stepup.NewGate()
	idp := &fakeIdP{}
	auditLogger := audit.NewLogger(db)

	deps := &Dependencies{
		SuitHandler:       handlers.NewSuitHandler(sessions, resolver, suitSvc, engine, "http://smb.example"),
		AuthHandler:       handlers.NewAuthHandler(sessions, resolver, idp, gate),
		AdminHandler:      handlers.NewAdminHandler(db, sessions, suitSvc, users, auditLogger, gate, config.StepUpConfig{AcceptSuitMaxAge: 300 * time.Second, AdminUsersMaxAge: 300 * time.Second}),
		AuditHandler:      handlers.NewAuditHandler(auditLogger),
		HealthHandler:     handlers.NewHealthHandler(db, nil),
		MetricsHandler:    handlers.NewMetricsHandler(),
		SessionMiddleware: middleware.NewSessionMiddleware(sessions, resolver),
		CallbackLimiter:   middleware.NewRateLimiter(600, 100),
	}

	srv := httptest.NewServer(Handler(deps))
	t.Cleanup(srv.Close)

	return &harness{srv: srv, db: db, users: users, suits: suitSvc, idp: idp, pay: fp, notifier: notifier}
}

// browser keeps cookies and never follows redirects.
func (h *harness) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("Failed to create cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (h *harness) get(t *testing.T, c *http.Client, path string) *http.Response {
	t.Helper()
	resp, err := c.Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) post(t *testing.T, c *http.Client, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(h.srv.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// login walks the browser through the provider round trip with the given
// claims and returns the final redirect.
func (h *harness) login(t *testing.T, c *http.Client, path string, claims oidc.Claims) *http.Response {
	t.Helper()
	h.idp.mu.Lock()
	h.idp.claims = claims
	h.idp.mu.Unlock()

	resp := h.get(t, c, path)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected redirect to provider, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("Bad provider location: %v", err)
	}

	q := url.Values{"state": {loc.Query().Get("state")}, "code": {"code-123"}}
	return h.get(t, c, "/oidc/callback?"+q.Encode())
}

func (h *harness) makeStaff(t *testing.T, email string, accept, super bool) {
	t.Helper()
	err := database.InTx(context.Background(), h.db, func(tx *sql.Tx) error {
		u, _, err := h.users.GetOrCreateByEmailTx(context.Background(), tx, email)
		if err != nil {
			return err
		}
		if err := h.users.UpdateAdminTx(context.Background(), tx, u.ID, repositories.AdminUpdate{
			Name:           models.NullStr("Staff Member"),
			CanAcceptSuits: &accept,
			IsSuperadmin:   &super,
		}); err != nil {
			return err
		}
		return h.users.AddRoleTx(context.Background(), tx, u.ID, models.RoleAdmin)
	})
	if err != nil {
		t.Fatalf("Failed to create staff: %v", err)
	}
}

func staffClaims(email string, iat int64) oidc.Claims {
	return oidc.Claims{Issuer: "https://idp.example", Subject: "sub-" + email, Email: email, Name: "Staff Member", IssuedAt: iat}
}

func location(resp *http.Response) string {
	return resp.Header.Get("Location")
}

// fileSuit runs the public flow up to the provider redirect and returns the
// suit id.
func (h *harness) fileSuit(t *testing.T, c *http.Client, mobile string) string {
	t.Helper()

	resp := h.post(t, c, "/details", url.Values{"name": {"Jane Doe"}, "email": {"jane@example.com"}})
	if resp.StatusCode != http.StatusSeeOther || location(resp) != "/start-suit" {
		t.Fatalf("Expected redirect to /start-suit, got %d %q", resp.StatusCode, location(resp))
	}

	resp = h.post(t, c, "/start-suit", url.Values{"defendant_name": {"John Doe"}, "defendant_mobile": {mobile}})
	if resp.StatusCode != http.StatusSeeOther || location(resp) != "/pay" {
		t.Fatalf("Expected redirect to /pay, got %d %q", resp.StatusCode, location(resp))
	}

	resp = h.get(t, c, "/start")
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(location(resp), "/status/") {
		t.Fatalf("Expected redirect to status, got %d %q", resp.StatusCode, location(resp))
	}
	return strings.TrimPrefix(location(resp), "/status/")
}

func (h *harness) payFor(t *testing.T, c *http.Client) string {
	t.Helper()
	resp := h.post(t, c, "/pay", nil)
	if resp.StatusCode != http.StatusSeeOther || !strings.HasPrefix(location(resp), "https://pay.example/secure/") {
		t.Fatalf("Expected redirect to provider, got %d %q", resp.StatusCode, location(resp))
	}
	u, err := url.Parse(h.pay.lastReturnURL())
	if err != nil {
		t.Fatalf("Bad return url: %v", err)
	}
	if u.Scheme != "https" {
		t.Errorf("Expected https return url, got %q", h.pay.lastReturnURL())
	}
	return u.Path
}

func TestFilingFlow(t *testing.T) {
	h := newHarness(t)
	c := h.browser(t)

	resp := h.get(t, c, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected index page, got %d", resp.StatusCode)
	}

	resp = h.get(t, c, "/start")
	if location(resp) != "/start-suit" {
		t.Errorf("Expected redirect to /start-suit, got %q", location(resp))
	}

	id := h.fileSuit(t, c, "07400 123456")

	suit, err := h.suits.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to load suit: %v", err)
	}
	if models.Str(suit.Plaintiff.Email) != "jane@example.com" || models.Str(suit.Defendant.Name) != "John Doe" {
		t.Errorf("Unexpected parties: %+v %+v", suit.Plaintiff, suit.Defendant)
	}
	if suit.ConfirmedAt != nil {
		t.Error("Expected unconfirmed suit")
	}
	if models.Str(suit.Defendant.Mobile) != "+447400123456" {
		t.Errorf("Expected normalised mobile, got %q", models.Str(suit.Defendant.Mobile))
	}

	// Known details skip the form.
	resp = h.get(t, c, "/details")
	if location(resp) != "/status/"+id {
		t.Errorf("Expected redirect to status, got %q", location(resp))
	}

	confirmPath := h.payFor(t, c)

	h.pay.succeed()

	resp = h.get(t, c, confirmPath)
	if resp.StatusCode != http.StatusFound || location(resp) != "/status/"+id {
		t.Fatalf("Expected redirect to status, got %d %q", resp.StatusCode, location(resp))
	}
	if sms, _ := h.notifier.counts(); sms != 1 {
		t.Errorf("Expected one sms, got %d", sms)
	}

	resp = h.get(t, c, "/status/"+id)
	var view map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if view["state"] != string(suits.StateConfirmed) {
		t.Errorf("Expected confirmed state, got %v", view["state"])
	}
	if _, leaked := view["plaintiff_email"]; leaked {
		t.Error("Status must not expose email addresses")
	}

	// The uid is spent once the payment finished.
	resp = h.get(t, c, confirmPath)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 on replay, got %d", resp.StatusCode)
	}
}

func TestDetails_Validation(t *testing.T) {
	h := newHarness(t)
	c := h.browser(t)

	resp := h.post(t, c, "/details", url.Values{"email": {"not-an-email"}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", resp.StatusCode)
	}

	var body struct {
		Details map[string]string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if body.Details["name"] != "Your Full Name is required" {
		t.Errorf("Expected name error, got %v", body.Details)
	}
	if body.Details["email"] == "" {
		t.Errorf("Expected email error, got %v", body.Details)
	}
}

func TestStartSuit_WithoutDetailsGoesToDetails(t *testing.T) {
	h := newHarness(t)
	c := h.browser(t)

	resp := h.post(t, c, "/start-suit", url.Values{"defendant_name": {"John Doe"}})
	if resp.StatusCode != http.StatusSeeOther || location(resp) != "/details" {
		t.Errorf("Expected redirect to /details, got %d %q", resp.StatusCode, location(resp))
	}
}

func TestConfirm_ForgedUID(t *testing.T) {
	h := newHarness(t)
	c := h.browser(t)

	id := h.fileSuit(t, c, "")
	h.payFor(t, c)

	h.pay.succeed()

	resp := h.get(t, c, "/confirm/6f1c1f5e-0000-4000-8000-000000000000")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", resp.StatusCode)
	}

	// A different browser cannot use the real uid either.
	other := h.browser(t)
	resp = h.get(t, other, mustPath(t, h.pay.lastReturnURL()))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 for another session, got %d", resp.StatusCode)
	}

	suit, err := h.suits.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to load suit: %v", err)
	}
	if suit.ConfirmedAt != nil {
		t.Error("Forged callback must not confirm the suit")
	}
}

func mustPath(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Bad url: %v", err)
	}
	return u.Path
}

func TestAdmin_RequiresLogin(t *testing.T) {
	h := newHarness(t)
	c := h.browser(t)

	resp := h.get(t, c, "/admin/suits")
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(location(resp), "/login?next=") {
		t.Fatalf("Expected redirect to login, got %d %q", resp.StatusCode, location(resp))
	}

	resp = h.login(t, c, "/login?next=/admin/suits", oidc.Claims{Issuer: "https://idp.example", Subject: "s1", Email: "plain@example.com", IssuedAt: time.Now().Unix()})
	if location(resp) != "/admin/suits" {
		t.Fatalf("Expected return to /admin/suits, got %q", location(resp))
	}

	resp = h.get(t, c, "/admin/suits")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", resp.StatusCode)
	}
}

func TestAccept_StaleLoginForcesReauthentication(t *testing.T) {
	h := newHarness(t)
	public := h.browser(t)
	id := h.fileSuit(t, public, "")
	h.payFor(t, public)

	h.pay.succeed()
	h.get(t, public, mustPath(t, h.pay.lastReturnURL()))

	h.makeStaff(t, "staff@example.com", true, false)
	staff := h.browser(t)
	resp := h.login(t, staff, "/login", staffClaims("staff@example.com", time.Now().Unix()-400))
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected login redirect, got %d", resp.StatusCode)
	}

	resp = h.post(t, staff, "/admin/suits/"+id+"/accept", nil)
	if resp.StatusCode != http.StatusFound || location(resp) != "/reauthenticate" {
		t.Fatalf("Expected redirect to /reauthenticate, got %d %q", resp.StatusCode, location(resp))
	}

	suit, err := h.suits.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to load suit: %v", err)
	}
	if suit.AcceptedAt != nil {
		t.Fatal("Stale login must not accept the suit")
	}

	// Fresh credentials bring the staff member back to the accept action.
	resp = h.login(t, staff, "/reauthenticate", staffClaims("staff@example.com", time.Now().Unix()))
	if !h.idp.wasForced() {
		t.Error("Expected the provider to be asked to re-prompt")
	}
	if location(resp) != "/admin/suits/"+id+"/accept" {
		t.Fatalf("Expected return to accept, got %q", location(resp))
	}

	// The replayed GET only shows the confirmation.
	resp = h.get(t, staff, location(resp))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected accept confirmation page, got %d", resp.StatusCode)
	}
	var page struct {
		Action string `json:"action"`
		Method string `json:"method"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("Failed to decode confirmation: %v", err)
	}
	if page.Action != "/admin/suits/"+id+"/accept" || page.Method != http.MethodPost {
		t.Errorf("Unexpected confirmation form: %+v", page)
	}
	suit, err = h.suits.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to load suit: %v", err)
	}
	if suit.AcceptedAt != nil {
		t.Fatal("GET must not accept the suit")
	}

	resp = h.post(t, staff, page.Action, nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("Expected accept to succeed, got %d", resp.StatusCode)
	}

	suit, err = h.suits.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to load suit: %v", err)
	}
	if suit.AcceptedAt == nil || suit.ConfirmedAt == nil {
		t.Error("Expected suit confirmed and accepted")
	}
	if _, email := h.notifier.counts(); email != 1 {
		t.Errorf("Expected one acceptance email, got %d", email)
	}
}

func TestReject_DeletesSuit(t *testing.T) {
	h := newHarness(t)
	public := h.browser(t)
	id := h.fileSuit(t, public, "")

	h.makeStaff(t, "staff@example.com", true, false)
	staff := h.browser(t)
	h.login(t, staff, "/login", staffClaims("staff@example.com", time.Now().Unix()))

	resp := h.post(t, staff, "/admin/suits/"+id+"/reject", nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("Expected reject to succeed, got %d", resp.StatusCode)
	}

	if _, err := h.suits.Get(context.Background(), id); err != suits.ErrNotFound {
		t.Errorf("Expected suit to be gone, got %v", err)
	}

	resp = h.get(t, public, "/")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected index once the suit is gone, got %d %q", resp.StatusCode, location(resp))
	}

	resp = h.get(t, staff, "/admin/audit")
	var body struct {
		AuditLogs []models.AuditLog `json:"audit_logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode audit: %v", err)
	}
	if len(body.AuditLogs) != 1 || body.AuditLogs[0].Action != audit.ActionSuitRejected {
		t.Errorf("Expected one reject audit entry, got %+v", body.AuditLogs)
	}
}

func TestAccept_NeedsCapability(t *testing.T) {
	h := newHarness(t)
	h.makeStaff(t, "staff@example.com", false, false)
	staff := h.browser(t)
	h.login(t, staff, "/login", staffClaims("staff@example.com", time.Now().Unix()))

	resp := h.post(t, staff, "/admin/suits/anything/accept", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", resp.StatusCode)
	}
}

func TestAdminUsers(t *testing.T) {
	h := newHarness(t)
	h.makeStaff(t, "boss@example.com", true, true)
	h.makeStaff(t, "staff@example.com", false, false)

	target, err := h.users.GetByEmail(context.Background(), "staff@example.com")
	if err != nil || target == nil {
		t.Fatalf("Failed to load staff: %v", err)
	}

	plain := h.browser(t)
	h.login(t, plain, "/login", staffClaims("staff@example.com", time.Now().Unix()))

	resp := h.post(t, plain, "/admin/users/"+target.ID, url.Values{"accept_suits": {"true"}})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected capability change to need make_admin, got %d", resp.StatusCode)
	}

	boss := h.browser(t)
	h.login(t, boss, "/login", staffClaims("boss@example.com", time.Now().Unix()))

	resp = h.get(t, boss, "/admin/users")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected user list, got %d", resp.StatusCode)
	}

	resp = h.post(t, boss, "/admin/users/"+target.ID, url.Values{"accept_suits": {"on"}, "admin": {"false"}, "mobile": {"07400 123457"}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("Expected update to succeed, got %d", resp.StatusCode)
	}

	updated, err := h.users.GetByID(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("Failed to reload: %v", err)
	}
	if !updated.CanAcceptSuits || updated.HasRole(models.RoleAdmin) {
		t.Errorf("Expected accept_suits granted and admin removed, got %+v", updated)
	}
	if models.Str(updated.Mobile) != "+447400123457" {
		t.Errorf("Expected normalised mobile, got %q", models.Str(updated.Mobile))
	}

	resp = h.post(t, boss, "/admin/users/"+target.ID+"/delete", nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("Expected delete to succeed, got %d", resp.StatusCode)
	}
	gone, err := h.users.GetByID(context.Background(), target.ID)
	if err != nil || gone != nil {
		t.Errorf("Expected user deleted, got %+v %v", gone, err)
	}

	resp = h.post(t, boss, "/admin/users/missing/delete", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestAdminUsers_StaleLoginForcesReauthentication(t *testing.T) {
	h := newHarness(t)
	h.makeStaff(t, "boss@example.com", true, true)
	h.makeStaff(t, "staff@example.com", false, false)

	target, err := h.users.GetByEmail(context.Background(), "staff@example.com")
	if err != nil || target == nil {
		t.Fatalf("Failed to load staff: %v", err)
	}

	boss := h.browser(t)
	h.login(t, boss, "/login", staffClaims("boss@example.com", time.Now().Unix()-4000))

	resp := h.post(t, boss, "/admin/users/"+target.ID, url.Values{"superadmin": {"on"}, "accept_suits": {"on"}, "admin": {"on"}})
	if resp.StatusCode != http.StatusFound || location(resp) != "/reauthenticate" {
		t.Fatalf("Expected update to need re-authentication, got %d %q", resp.StatusCode, location(resp))
	}

	resp = h.post(t, boss, "/admin/users/"+target.ID+"/delete", nil)
	if resp.StatusCode != http.StatusFound || location(resp) != "/reauthenticate" {
		t.Fatalf("Expected delete to need re-authentication, got %d %q", resp.StatusCode, location(resp))
	}

	unchanged, err := h.users.GetByID(context.Background(), target.ID)
	if err != nil || unchanged == nil {
		t.Fatalf("Expected user to survive, got %+v %v", unchanged, err)
	}
	if unchanged.IsSuperadmin || unchanged.CanAcceptSuits {
		t.Errorf("Stale login must not change capabilities, got %+v", unchanged)
	}

	// Re-authentication lands on the list, never replaying the change.
	resp = h.login(t, boss, "/reauthenticate", staffClaims("boss@example.com", time.Now().Unix()))
	if location(resp) != "/admin/users" {
		t.Errorf("Expected return to /admin/users, got %q", location(resp))
	}
}

func sessionCookie(t *testing.T, h *harness, c *http.Client) *http.Cookie {
	t.Helper()
	u, _ := url.Parse(h.srv.URL)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == "smb_session" {
			return ck
		}
	}
	t.Fatal("No session cookie")
	return nil
}

func TestLogin_RotatesSession(t *testing.T) {
	h := newHarness(t)
	h.makeStaff(t, "staff@example.com", false, false)
	c := h.browser(t)

	h.idp.mu.Lock()
	h.idp.claims = staffClaims("staff@example.com", time.Now().Unix())
	h.idp.mu.Unlock()

	resp := h.get(t, c, "/login")
	loc, err := url.Parse(location(resp))
	if err != nil {
		t.Fatalf("Bad provider location: %v", err)
	}
	planted := sessionCookie(t, h, c)

	q := url.Values{"state": {loc.Query().Get("state")}, "code": {"code-123"}}
	resp = h.get(t, c, "/oidc/callback?"+q.Encode())
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("Expected login to succeed, got %d", resp.StatusCode)
	}
	loggedIn := sessionCookie(t, h, c)
	if loggedIn.Value == planted.Value {
		t.Fatal("Expected a new session cookie after login")
	}

	// replaying the pre-login cookie gives an anonymous session
	replay := func(ck *http.Cookie) *http.Response {
		req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/admin", nil)
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
		resp, err := h.browser(t).Do(req)
		if err != nil {
			t.Fatalf("GET /admin: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}
	if resp := replay(planted); resp.StatusCode != http.StatusFound || !strings.HasPrefix(location(resp), "/login") {
		t.Errorf("Expected planted cookie to be anonymous, got %d %q", resp.StatusCode, location(resp))
	}
	if resp := replay(loggedIn); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected logged-in cookie to reach /admin, got %d", resp.StatusCode)
	}

	resp = h.get(t, c, "/logout")
	if location(resp) != "/" {
		t.Fatalf("Expected logout redirect, got %q", location(resp))
	}
	if sessionCookie(t, h, c).Value == loggedIn.Value {
		t.Error("Expected a new session cookie after logout")
	}
	if resp := replay(loggedIn); resp.StatusCode != http.StatusFound {
		t.Errorf("Expected pre-logout cookie to be anonymous, got %d", resp.StatusCode)
	}
}

func TestLogin_IgnoresOffsiteNext(t *testing.T) {
	h := newHarness(t)
	for _, next := range []string{`/\evil.example/x`, "//evil.example/x", "/%5Cevil.example/x"} {
		c := h.browser(t)
		resp := h.login(t, c, "/login?next="+url.QueryEscape(next), staffClaims("jane@example.com", time.Now().Unix()))
		got := location(resp)
		if strings.Contains(got, "evil.example") || strings.Contains(got, `\`) {
			t.Errorf("next=%q redirected off site to %q", next, got)
		}
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, h.browser(t), "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthy, got %d", resp.StatusCode)
	}
}
