package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/josh-kwaku/simsync/internal/domain"
	"github.com/josh-kwaku/simsync/internal/logging"
	"github.com/josh-kwaku/simsync/internal/retry"
)

const (
	EndpointRefreshToken   = "refreshToken"
	EndpointDashboard      = "dashboard"
	EndpointPointDashboard = "pointDashboard"
	EndpointBalance        = "balance"
	EndpointClaimList      = "claimList"
	EndpointClaim          = "claim"
	EndpointTransfer       = "pointTransfer"
	EndpointPointDetails   = "pointDetails"
)

const otpNeededMessage = "otp needed"

// Identity is what every request needs to address one account.
type Identity struct {
	MSISDN string
	UserID domain.UserID
	Token  string
}

func IdentityOf(rec domain.AccountRecord) Identity {
	return Identity{MSISDN: rec.MSISDN, UserID: rec.UserID, Token: rec.Token}
}

type DeviceProfile struct {
	UserAgent    string
	DeviceName   string
	ServerSelect string
}

type Options struct {
	BaseURL     string
	AuthBaseURL string
	Version     string
	Profile     DeviceProfile
	Timeout     time.Duration
	Retry       retry.Policy
	HTTPClient  *http.Client
}

type Client struct {
	baseURL     string
	authBaseURL string
	version     string
	profile     DeviceProfile
	retry       retry.Policy
	httpClient  *http.Client
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	profile := opts.Profile
	if profile.ServerSelect == "" {
		profile.ServerSelect = "production"
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		authBaseURL: strings.TrimRight(opts.AuthBaseURL, "/"),
		version:     opts.Version,
		profile:     profile,
		retry:       opts.Retry.WithRetryable(IsServiceUnavailable),
		httpClient:  httpClient,
	}
}

// RefreshToken exchanges a refresh token for a new access token. It makes a
// single attempt; the caller owns the retry decision.
func (c *Client) RefreshToken(ctx context.Context, id Identity, refreshToken string) (*TokenAttributes, error) {
	var env envelope[*tokenAttributes]
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, request{
		endpoint: EndpointRefreshToken,
		method:   http.MethodPost,
		url:      c.authBaseURL + "/oauth/refresh-token",
		id:       id,
		body:     body,
	}, &env); err != nil {
		return nil, fmt.Errorf("RefreshToken: %w", err)
	}

	attr := env.Data.Attribute
	if attr == nil || attr.Token == "" {
		return nil, fmt.Errorf("RefreshToken: %w", ErrEmptyResponse)
	}
	return &TokenAttributes{
		Token:                attr.Token,
		AccessTokenExpireAt:  int64(attr.AccessTokenExpireAt),
		RefreshToken:         attr.RefreshToken,
		RefreshTokenExpireAt: int64(attr.RefreshTokenExpireAt),
	}, nil
}

func (c *Client) Dashboard(ctx context.Context, id Identity) (string, error) {
	var env envelope[dashboardAttributes]
	query := url.Values{"isFirstTime": {"1"}}
	if err := c.read(ctx, EndpointDashboard, "/dashboard", id, query, &env); err != nil {
		return "", fmt.Errorf("Dashboard: %w", err)
	}
	return env.Data.Attribute.StartStatusLabel, nil
}

func (c *Client) PointDashboard(ctx context.Context, id Identity) (int64, error) {
	var env envelope[pointDashboardAttributes]
	if err := c.read(ctx, EndpointPointDashboard, "/point-system/dashboard", id, nil, &env); err != nil {
		return 0, fmt.Errorf("PointDashboard: %w", err)
	}
	return int64(env.Data.Attribute.TotalPoint), nil
}

func (c *Client) Balance(ctx context.Context, id Identity) (Balance, error) {
	var env envelope[balanceAttributes]
	if err := c.read(ctx, EndpointBalance, "/lightweight-balance", id, nil, &env); err != nil {
		return Balance{}, fmt.Errorf("Balance: %w", err)
	}
	return env.Data.Attribute.toBalance(), nil
}

// ClaimList returns the first claimable entry, or nil when the account has
// nothing on offer.
func (c *Client) ClaimList(ctx context.Context, id Identity) (*domain.ClaimPoints, error) {
	var env envelope[[]domain.ClaimPoints]
	if err := c.read(ctx, EndpointClaimList, "/point-system/claim-list", id, nil, &env); err != nil {
		return nil, fmt.Errorf("ClaimList: %w", err)
	}
	if len(env.Data.Attribute) == 0 {
		return nil, nil
	}
	first := env.Data.Attribute[0]
	return &first, nil
}

func (c *Client) Claim(ctx context.Context, id Identity, pointsID string) error {
	body := map[string]string{"id": pointsID}
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var env envelope[json.RawMessage]
		if err := c.do(ctx, request{
			endpoint: EndpointClaim,
			method:   http.MethodPost,
			url:      c.baseURL + "/point-system/claim",
			id:       id,
			body:     body,
		}, &env); err != nil {
			return err
		}
		if env.Status != "" && !strings.EqualFold(env.Status, "success") {
			return &APIError{Endpoint: EndpointClaim, Status: http.StatusOK, Message: env.Message}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Claim: %w", err)
	}
	return nil
}

type transferBody struct {
	TransfereeID string `json:"transfereeId"`
	Amount       int64  `json:"amount"`
	OTP          string `json:"otp,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
}

// TransferPoints starts a point transfer to the recipient msisdn. The API
// usually answers with an OTP challenge.
func (c *Client) TransferPoints(ctx context.Context, id Identity, recipient string, amount int64) (TransferResult, error) {
	res, err := c.transfer(ctx, id, transferBody{TransfereeID: recipient, Amount: amount})
	if err != nil {
		return TransferResult{}, fmt.Errorf("TransferPoints: %w", err)
	}
	return res, nil
}

func (c *Client) ConfirmTransfer(ctx context.Context, id Identity, recipient string, amount int64, otp, requestID string) (TransferResult, error) {
	res, err := c.transfer(ctx, id, transferBody{
		TransfereeID: recipient,
		Amount:       amount,
		OTP:          otp,
		RequestID:    requestID,
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("ConfirmTransfer: %w", err)
	}
	return res, nil
}

func (c *Client) transfer(ctx context.Context, id Identity, body transferBody) (TransferResult, error) {
	var env envelope[*transferAttributes]
	if err := c.do(ctx, request{
		endpoint: EndpointTransfer,
		method:   http.MethodPost,
		url:      c.baseURL + "/point-system/point-transfer",
		id:       id,
		body:     body,
	}, &env); err != nil {
		return TransferResult{}, err
	}

	res := TransferResult{Message: env.Message}
	if attr := env.Data.Attribute; attr != nil {
		res.RequestID = attr.RequestID
		if attr.Message != "" {
			res.Message = attr.Message
		}
		if attr.Response != nil && attr.Response.Message != "" {
			res.Message = attr.Response.Message
		}
	}
	res.OTPRequired = strings.Contains(strings.ToLower(res.Message), otpNeededMessage)
	res.Completed = !res.OTPRequired && strings.EqualFold(env.Status, "success")
	return res, nil
}

func (c *Client) PointDetails(ctx context.Context, id Identity) (PointDetails, error) {
	var env envelope[pointDetailsAttributes]
	if err := c.read(ctx, EndpointPointDetails, "/point-system/details", id, nil, &env); err != nil {
		return PointDetails{}, fmt.Errorf("PointDetails: %w", err)
	}
	attr := env.Data.Attribute
	details := PointDetails{
		TotalPoint:   int64(attr.TotalPoint),
		ExpiringSoon: int64(attr.ExpiringSoon),
	}
	for _, h := range attr.History {
		details.History = append(details.History, PointHistoryEntry{Title: h.Title, Amount: int64(h.Amount), Date: h.Date})
	}
	return details, nil
}

func (c *Client) read(ctx context.Context, endpoint, path string, id Identity, query url.Values, out any) error {
	return c.retry.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, request{
			endpoint: endpoint,
			method:   http.MethodGet,
			url:      c.baseURL + path,
			id:       id,
			query:    query,
		}, out)
	})
}

type request struct {
	endpoint string
	method   string
	url      string
	id       Identity
	query    url.Values
	body     any
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	log := logging.FromContext(ctx)

	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("%s: marshal: %w", r.endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, r.method, r.url, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", r.endpoint, err)
	}

	q := httpReq.URL.Query()
	q.Set("msisdn", r.id.MSISDN)
	q.Set("userid", r.id.UserID.String())
	q.Set("v", c.version)
	for k, vs := range r.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	httpReq.URL.RawQuery = q.Encode()

	if r.id.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.id.Token)
	}
	httpReq.Header.Set("User-Agent", c.profile.UserAgent)
	httpReq.Header.Set("Device-Name", c.profile.DeviceName)
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
	httpReq.Header.Set("X-Server-Select", c.profile.ServerSelect)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: send: %w", r.endpoint, err)
	}
	defer resp.Body.Close()

	log.Debug("api response received",
		"endpoint", r.endpoint,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Endpoint: r.endpoint, Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Message = eb.message()
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode: %w", r.endpoint, err)
	}
	return nil
}
