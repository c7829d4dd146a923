package mockapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/handler"
)

type envelope struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Data    envelopeData `json:"data"`
}

type envelopeData struct {
	Attribute any `json:"attribute"`
}

func respond(w http.ResponseWriter, status, message string, attribute any) {
	handler.RespondJSON(w, http.StatusOK, envelope{
		Status:  status,
		Message: message,
		Data:    envelopeData{Attribute: attribute},
	})
}

func respondError(w http.ResponseWriter, code int, message string) {
	handler.RespondJSON(w, code, map[string]string{"status": "fail", "message": message})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	userID := r.URL.Query().Get("userid")

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok || s.revoked[body.RefreshToken] || body.RefreshToken != a.RefreshToken {
		respondError(w, http.StatusBadRequest, "Invalid refresh token")
		return
	}
	exp, err := s.issueToken(a)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Token issue failed")
		return
	}
	attrs := map[string]any{"token": a.Token}
	if !s.omitExpiry {
		attrs["access_token_expire_at"] = exp
	}
	respond(w, "success", "Token refreshed", attrs)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request, a *Account) {
	respond(w, "success", "", map[string]string{"startStatusLabel": a.Label})
}

func (s *Server) pointDashboard(w http.ResponseWriter, r *http.Request, a *Account) {
	// Point totals come back as strings on this endpoint.
	respond(w, "success", "", map[string]string{"totalPoint": fmt.Sprint(a.TotalPoint)})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request, a *Account) {
	packs := a.Packs
	if packs == nil {
		packs = []domain.LoyaltyEntry{}
	}
	respond(w, "success", "", map[string]any{
		"mainBalance": map[string]any{
			"availableTotalBalance": a.Balance,
			"currency":              domain.DefaultCurrency,
		},
		"packsPieData": map[string]any{
			"data": map[string]any{"packsList": packs},
		},
	})
}

func (s *Server) claimList(w http.ResponseWriter, r *http.Request, a *Account) {
	if a.ClaimID == "" {
		respond(w, "success", "", []domain.ClaimPoints{})
		return
	}
	label := domain.LabelClaim
	if a.Claimed {
		label = domain.LabelClaimed
	}
	respond(w, "success", "", []domain.ClaimPoints{{Enable: !a.Claimed, ID: a.ClaimID, Label: label}})
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request, a *Account) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if a.ClaimID == "" || a.Claimed || body.ID != a.ClaimID {
		respond(w, "fail", "Nothing to claim", nil)
		return
	}
	a.Claimed = true
	a.TotalPoint += s.claimAmount
	s.claims[a.UserID]++
	respond(w, "success", "Claimed", nil)
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request, a *Account) {
	var body struct {
		TransfereeID string `json:"transfereeId"`
		Amount       int64  `json:"amount"`
		OTP          string `json:"otp"`
		RequestID    string `json:"requestId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Amount <= 0 || body.Amount > a.TotalPoint {
		respond(w, "fail", "Insufficient points", nil)
		return
	}

	if body.OTP == "" {
		s.seq++
		id := fmt.Sprintf("req-%d", s.seq)
		s.pending[id] = transfer{userID: a.UserID, recipient: body.TransfereeID, amount: body.Amount}
		respond(w, "success", "OTP needed!", map[string]string{"requestId": id})
		return
	}

	p, ok := s.pending[body.RequestID]
	if !ok || p.userID != a.UserID || p.recipient != body.TransfereeID || p.amount != body.Amount {
		respond(w, "fail", "Unknown transfer request", nil)
		return
	}
	if strings.TrimSpace(body.OTP) != s.otp {
		respond(w, "fail", "Invalid OTP", nil)
		return
	}
	delete(s.pending, body.RequestID)
	a.TotalPoint -= body.Amount
	for _, other := range s.accounts {
		if other.MSISDN == body.TransfereeID {
			other.TotalPoint += body.Amount
		}
	}
	respond(w, "success", "Transfer successful", map[string]any{
		"response": map[string]string{"message": "Transfer successful"},
	})
}

func (s *Server) pointDetails(w http.ResponseWriter, r *http.Request, a *Account) {
	var history []map[string]any
	if a.Claimed {
		history = append(history, map[string]any{"title": "Claim", "amount": s.claimAmount, "date": s.now().UTC().Format(time.DateOnly)})
	}
	respond(w, "success", "", map[string]any{
		"totalPoint":   a.TotalPoint,
		"expiringSoon": 0,
		"history":      history,
	})
}
