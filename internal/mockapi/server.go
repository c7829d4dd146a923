// Package mockapi is an in-memory stand-in for the external account API. It
// serves the same paths and envelopes, and lets tests inject faults and count
// requests.
package mockapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/middleware"
	"github.com/josh-kwaku/simsync/internal/provider"
)

const (
	// BasePath and AuthBasePath are where the router mounts the account
	// and auth endpoints.
	BasePath     = "/v1/my"
	AuthBasePath = "/v3/my"

	defaultOTP         = "123456"
	defaultClaimAmount = 100
	defaultTokenTTL    = time.Hour
)

type Account struct {
	UserID       string
	MSISDN       string
	Token        string
	RefreshToken string
	Label        string
	TotalPoint   int64
	Balance      decimal.Decimal
	Packs        []domain.LoyaltyEntry
	// ClaimID is the pending claim offer; empty means nothing to claim.
	ClaimID string
	Claimed bool
}

type fault struct {
	status int
	left   int
}

type transfer struct {
	userID    string
	recipient string
	amount    int64
}

type Server struct {
	mu          sync.Mutex
	accounts    map[string]*Account
	faults      map[string]*fault
	revoked     map[string]bool
	requests    map[string]int
	claims      map[string]int
	pending     map[string]transfer
	otp         string
	claimAmount int64
	tokenTTL    time.Duration
	seq         int
	secret      []byte
	omitExpiry  bool
	now         func() time.Time
}

func New() *Server {
	return &Server{
		accounts:    make(map[string]*Account),
		faults:      make(map[string]*fault),
		revoked:     make(map[string]bool),
		requests:    make(map[string]int),
		claims:      make(map[string]int),
		pending:     make(map[string]transfer),
		otp:         defaultOTP,
		claimAmount: defaultClaimAmount,
		tokenTTL:    defaultTokenTTL,
		secret:      []byte(uuid.NewString()),
		now:         time.Now,
	}
}

// AddAccount registers or replaces an account.
func (s *Server) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.Label == "" {
		a.Label = "Member"
	}
	c := a
	s.accounts[a.UserID] = &c
}

func (s *Server) Account(userID string) (Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// RemoveAccount makes every later request for userID answer 410 Gone.
func (s *Server) RemoveAccount(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, userID)
}

// OfferClaim puts a new claimable offer on the account.
func (s *Server) OfferClaim(userID, claimID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[userID]; ok {
		a.ClaimID = claimID
		a.Claimed = false
	}
}

// ExpireToken invalidates the current access token so reads answer 401 until
// the client refreshes.
func (s *Server) ExpireToken(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[userID]; ok {
		a.Token = "expired-" + a.Token
	}
}

// RevokeRefreshToken makes the refresh endpoint reject token as invalid.
func (s *Server) RevokeRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

// FailNext makes the next times requests by userID to endpoint answer with
// status. endpoint uses the provider.Endpoint* names.
func (s *Server) FailNext(userID, endpoint string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[faultKey(userID, endpoint)] = &fault{status: status, left: times}
}

func (s *Server) SetOTP(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otp = code
}

// OmitTokenExpiry makes refresh responses leave out access_token_expire_at,
// so clients must read the expiry from the JWT itself.
func (s *Server) OmitTokenExpiry(omit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitExpiry = omit
}

// SetTokenTTL sets the lifetime of access tokens issued from now on.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// Requests returns how many requests reached endpoint, faults included.
func (s *Server) Requests(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[endpoint]
}

// ClaimCount returns how many claims succeeded for userID.
func (s *Server) ClaimCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claims[userID]
}

// Handler returns the chi router serving both API bases.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)

	r.Route(AuthBasePath, func(r chi.Router) {
		r.Post("/oauth/refresh-token", s.endpoint(provider.EndpointRefreshToken, s.refreshToken))
	})
	r.Route(BasePath, func(r chi.Router) {
		r.Get("/dashboard", s.endpoint(provider.EndpointDashboard, s.authed(s.dashboard)))
		r.Get("/lightweight-balance", s.endpoint(provider.EndpointBalance, s.authed(s.balance)))
		r.Route("/point-system", func(r chi.Router) {
			r.Get("/dashboard", s.endpoint(provider.EndpointPointDashboard, s.authed(s.pointDashboard)))
			r.Get("/claim-list", s.endpoint(provider.EndpointClaimList, s.authed(s.claimList)))
			r.Post("/claim", s.endpoint(provider.EndpointClaim, s.authed(s.claim)))
			r.Post("/point-transfer", s.endpoint(provider.EndpointTransfer, s.authed(s.transfer)))
			r.Get("/details", s.endpoint(provider.EndpointPointDetails, s.authed(s.pointDetails)))
		})
	})
	return r
}

func faultKey(userID, endpoint string) string {
	return userID + "|" + endpoint
}

// endpoint counts the request and applies any queued fault before calling next.
func (s *Server) endpoint(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userid")

		s.mu.Lock()
		s.requests[name]++
		status := 0
		if f, ok := s.faults[faultKey(userID, name)]; ok && f.left > 0 {
			f.left--
			status = f.status
		}
		s.mu.Unlock()

		if status != 0 {
			respondError(w, status, http.StatusText(status))
			return
		}
		next(w, r)
	}
}

type accountHandler func(w http.ResponseWriter, r *http.Request, a *Account)

// authed resolves the account from the userid query and checks the bearer
// token. The handler runs with s.mu held.
func (s *Server) authed(next accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userid")
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.Lock()
		defer s.mu.Unlock()

		a, ok := s.accounts[userID]
		if !ok {
			respondError(w, http.StatusGone, "Account no longer exists")
			return
		}
		if token == "" || token != a.Token {
			respondError(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}
		// Seeded accounts may carry opaque tokens; issued ones are checked
		// for expiry and owner.
		owner, err := verifyToken(token, s.secret, s.now)
		if (err != nil && !errors.Is(err, errForeignToken)) || (err == nil && owner != userID) {
			respondError(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}
		next(w, r, a)
	}
}

func (s *Server) issueToken(a *Account) (int64, error) {
	token, exp, err := signToken(s.secret, a.UserID, s.now(), s.tokenTTL)
	if err != nil {
		return 0, err
	}
	a.Token = token
	return exp.Unix(), nil
}
