// Package client is the Go consumer of the dashboard API: a REST client
// for the mutation surface plus the live-update machinery (push stream,
// polling fallback, and the reconciliation watcher that drives a UI).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/heimchen/bossboard/apperror"
	"github.com/heimchen/bossboard/model"
)

// Client talks to the dashboard REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for the given base URL, e.g. "http://host:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithHTTPClient creates a Client with a caller-supplied *http.Client.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Registrations fetches the authoritative registration list for one
// boss date.
func (c *Client) Registrations(ctx context.Context, bossDate string) ([]model.RegistrationWithGuild, error) {
	var regs []model.RegistrationWithGuild
	err := c.do(ctx, http.MethodGet, "/api/registrations?bossDate="+bossDate, nil, &regs)
	return regs, err
}

// UpsertRegistration creates or updates the (guild, boss date) row.
func (c *Client) UpsertRegistration(ctx context.Context, guildID, bossDate string, usedQuotas int) (*model.Registration, error) {
	body := map[string]interface{}{
		"guild_id":    guildID,
		"boss_date":   bossDate,
		"used_quotas": usedQuotas,
	}
	var reg model.Registration
	if err := c.do(ctx, http.MethodPost, "/api/registrations", body, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// SetUsedQuota unconditionally overwrites a registration's quota.
func (c *Client) SetUsedQuota(ctx context.Context, registrationID string, value int) (*model.Registration, error) {
	body := map[string]interface{}{"usedQuotas": value}
	var reg model.Registration
	if err := c.do(ctx, http.MethodPut, "/api/registrations/"+registrationID, body, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// CASUsedQuota updates the quota only if the stored value still equals
// expected. A lost race comes back as CONCURRENT_MODIFICATION; check it
// with errors.Is against apperror.ConcurrentModification.
func (c *Client) CASUsedQuota(ctx context.Context, registrationID string, expected, newValue int) (*model.Registration, error) {
	body := map[string]interface{}{
		"expectedCurrentQuota": expected,
		"newQuota":             newValue,
	}
	var reg model.Registration
	if err := c.do(ctx, http.MethodPut, "/api/registrations/"+registrationID+"/quota", body, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// AddMercenary registers a mercenary under a registration.
func (c *Client) AddMercenary(ctx context.Context, registrationID, name string) (*model.Mercenary, error) {
	body := map[string]interface{}{"name": name}
	var merc model.Mercenary
	if err := c.do(ctx, http.MethodPost, "/api/registrations/"+registrationID+"/mercenaries", body, &merc); err != nil {
		return nil, err
	}
	return &merc, nil
}

// RemoveMercenary deletes a mercenary by id.
func (c *Client) RemoveMercenary(ctx context.Context, mercenaryID string) error {
	return c.do(ctx, http.MethodDelete, "/api/mercenaries/"+mercenaryID, nil, nil)
}

// Version returns the server's change-version marker for one boss date.
func (c *Client) Version(ctx context.Context, bossDate string) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	err := c.do(ctx, http.MethodGet, "/api/registrations/version?bossDate="+bossDate, nil, &out)
	return out.Version, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperror.ChannelError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeAPIError maps the server's {error, code} body back onto the
// error taxonomy so callers can use errors.Is.
func decodeAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = fmt.Sprintf("http %d", resp.StatusCode)
	}
	switch body.Code {
	case apperror.CodeNotFound:
		return apperror.NotFound(msg)
	case apperror.CodeValidation:
		return apperror.Validation(msg)
	case apperror.CodeConcurrentModification:
		return apperror.ConcurrentModification(msg)
	case apperror.CodeStoreUnavailable:
		return apperror.StoreUnavailable(fmt.Errorf("%s", msg))
	}
	return &apperror.AppError{
		Code:       apperror.CodeInternal,
		Message:    msg,
		HTTPStatus: resp.StatusCode,
	}
}
