package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"membersonly-live/internal/logging"
)

const refreshCookieName = "refreshToken"

// Refresher exchanges the stored refresh token for a new access token and
// writes the result back to the store.
type Refresher struct {
	HTTP       *http.Client
	RefreshURL string
	Store      *Store
	Logger     *logging.Logger
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (r Refresher) Refresh(ctx context.Context) error {
	if r.Store == nil {
		return errors.New("auth.Refresher: store must not be nil")
	}
	refreshToken := r.Store.RefreshToken()
	if refreshToken == "" {
		return ErrMissingRefreshToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.RefreshURL, nil)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: refreshToken})
	req.Header.Set("Accept", "application/json")

	httpClient := r.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	r.Logger.Debugf("POST %s -> %s", r.RefreshURL, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		r.Logger.Warn("token refresh rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatPayload(data)),
		)
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	payload := refreshResponse{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid token refresh response: %w", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return errors.New("token refresh response has no access token")
	}

	// Servers that rotate the refresh token send it back as a cookie.
	rotated := strings.TrimSpace(payload.RefreshToken)
	for _, cookie := range resp.Cookies() {
		if cookie.Name == refreshCookieName && cookie.Value != "" {
			rotated = cookie.Value
		}
	}
	r.Store.SetTokens(payload.AccessToken, rotated)
	r.Logger.Debug("access token refreshed")
	return nil
}
