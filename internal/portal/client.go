// Package portal is the production reservation executor: a plain HTTP
// client against the court portal's JSON endpoints. One Execute call is
// one full attempt: log in, check availability, book.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/example/courtsched/internal/reserve"
)

type Client struct {
	hc      *http.Client
	baseURL string
}

func New(baseURL string) *Client {
	return &Client{
		// Generous timeout: the portal is slow right at release time,
		// which is exactly when we call it.
		hc:      &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
	}
}

// Execute performs one booking attempt and classifies the result. It
// returns an error only for programming mistakes; every portal-side
// failure comes back as a structured Outcome.
func (c *Client) Execute(ctx context.Context, req reserve.Request) (reserve.Outcome, error) {
	req.Progress("logging in")
	token, outcome, err := c.login(ctx, req.Creds)
	if err != nil || outcome != nil {
		return deref(outcome), err
	}

	req.Progress("checking availability")
	times, outcome, err := c.availability(ctx, token, req.Court, req.Date)
	if err != nil || outcome != nil {
		return deref(outcome), err
	}

	if !contains(times, req.Time) {
		return reserve.Outcome{
			Kind:         reserve.OutcomeUnavailable,
			Reason:       fmt.Sprintf("%s is not open on %s", req.Time, req.Date.Format("2006-01-02")),
			Alternatives: times,
		}, nil
	}

	req.Progress("booking slot")
	return c.book(ctx, token, req, times)
}

func (c *Client) login(ctx context.Context, creds reserve.Credentials) (string, *reserve.Outcome, error) {
	body, _ := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	status, resBody, err := c.do(ctx, http.MethodPost, "/api/v1/login", "", body)
	if err != nil {
		return "", transient("login", err), nil
	}
	switch {
	case status == http.StatusOK:
		var res struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(resBody, &res); err != nil || res.Token == "" {
			return "", transient("login", fmt.Errorf("malformed login response")), nil
		}
		return res.Token, nil, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "", &reserve.Outcome{Kind: reserve.OutcomeFatal, Reason: "portal rejected credentials"}, nil
	default:
		return "", statusOutcome("login", status), nil
	}
}

func (c *Client) availability(ctx context.Context, token, court string, date time.Time) ([]string, *reserve.Outcome, error) {
	path := fmt.Sprintf("/api/v1/availability?court=%s&date=%s",
		url.QueryEscape(court), date.Format("2006-01-02"))
	status, body, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, transient("availability", err), nil
	}
	if status != http.StatusOK {
		return nil, statusOutcome("availability", status), nil
	}

	var res struct {
		Times []string `json:"times"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, transient("availability", fmt.Errorf("malformed availability response")), nil
	}
	return res.Times, nil, nil
}

func (c *Client) book(ctx context.Context, token string, req reserve.Request, openTimes []string) (reserve.Outcome, error) {
	body, _ := json.Marshal(map[string]string{
		"court": req.Court,
		"date":  req.Date.Format("2006-01-02"),
		"time":  req.Time,
	})
	status, resBody, err := c.do(ctx, http.MethodPost, "/api/v1/bookings", token, body)
	if err != nil {
		return deref(transient("book", err)), nil
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		var res struct {
			Reference string `json:"reference"`
		}
		_ = json.Unmarshal(resBody, &res)
		return reserve.Outcome{Kind: reserve.OutcomeSuccess, Reference: res.Reference}, nil
	case status == http.StatusConflict:
		// Someone grabbed the slot between the availability check and
		// the booking call.
		return reserve.Outcome{
			Kind:         reserve.OutcomeUnavailable,
			Reason:       "slot taken before booking completed",
			Alternatives: remove(openTimes, req.Time),
		}, nil
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return reserve.Outcome{
			Kind:   reserve.OutcomeFatal,
			Reason: fmt.Sprintf("portal rejected booking request (status=%d)", status),
		}, nil
	default:
		return deref(statusOutcome("book", status)), nil
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

func transient(stage string, err error) *reserve.Outcome {
	return &reserve.Outcome{
		Kind:   reserve.OutcomeTransient,
		Reason: fmt.Sprintf("%s: %v", stage, err),
	}
}

// statusOutcome maps an unexpected HTTP status: 5xx and 429 may clear on
// retry, anything else will not.
func statusOutcome(stage string, status int) *reserve.Outcome {
	kind := reserve.OutcomeFatal
	if status >= 500 || status == http.StatusTooManyRequests {
		kind = reserve.OutcomeTransient
	}
	return &reserve.Outcome{
		Kind:   kind,
		Reason: fmt.Sprintf("%s failed (status=%d)", stage, status),
	}
}

func deref(o *reserve.Outcome) reserve.Outcome {
	if o == nil {
		return reserve.Outcome{}
	}
	return *o
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func remove(ss []string, s string) []string {
	out := make([]string, 0, len(ss))
	for _, v := range ss {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
