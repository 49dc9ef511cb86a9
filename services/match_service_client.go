// services/match_service_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"match-coordinator/apperrors"
	"match-coordinator/utils"
)

// RecordService is the external match service the coordinator saves to.
type RecordService interface {
	CheckEligibility(ctx context.Context, externalIDs []string) (map[string]bool, error)
	RecordMatch(ctx context.Context, req RecordMatchRequest) (RecordMatchResponse, error)
}

type MatchServiceClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

type TeamScore struct {
	Players []string `json:"players"`
	Score   int      `json:"score"`
}

type RecordMatchRequest struct {
	MatchID   string    `json:"matchId"`
	Team1     TeamScore `json:"team1"`
	Team2     TeamScore `json:"team2"`
	Winners   []string  `json:"winners"`
	Location  string    `json:"location"`
	LogToDupr bool      `json:"logToDupr,omitempty"`
}

type RecordMatchResponse struct {
	ExternalMatchID string
}

type eligibilityResponse struct {
	Users []struct {
		ID   string `json:"_id"`
		Dupr *struct {
			Activated bool `json:"activated"`
		} `json:"dupr"`
	} `json:"users"`
}

type recordMatchResponse struct {
	Match *struct {
		ID string `json:"_id"`
	} `json:"match"`
}

type upstreamError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewMatchServiceClient(baseURL, apiKey string, timeout time.Duration) *MatchServiceClient {
	return &MatchServiceClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  utils.NewHTTPClient(timeout),
	}
}

// CheckEligibility asks the user service which players have an activated
// rating account. Players missing from the answer count as not activated.
func (c *MatchServiceClient) CheckEligibility(ctx context.Context, externalIDs []string) (map[string]bool, error) {
	var out eligibilityResponse
	if err := c.post(ctx, "/api/user/get-dupr-status", map[string]any{"userIds": externalIDs}, false, &out); err != nil {
		return nil, err
	}

	activated := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		activated[id] = false
	}
	for _, u := range out.Users {
		activated[u.ID] = u.Dupr != nil && u.Dupr.Activated
	}
	return activated, nil
}

// RecordMatch saves the validated result and returns the id the match
// service assigned to it.
func (c *MatchServiceClient) RecordMatch(ctx context.Context, req RecordMatchRequest) (RecordMatchResponse, error) {
	var out recordMatchResponse
	if err := c.post(ctx, "/api/match", req, true, &out); err != nil {
		return RecordMatchResponse{}, err
	}
	if out.Match == nil || out.Match.ID == "" {
		return RecordMatchResponse{}, apperrors.New(apperrors.CodeMalformedResponse,
			"API returned a success status but was missing the match ID.")
	}
	return RecordMatchResponse{ExternalMatchID: out.Match.ID}, nil
}

func (c *MatchServiceClient) post(ctx context.Context, path string, body any, withKey bool, out any) error {
	if c.BaseURL == "" {
		return apperrors.New(apperrors.CodeRequestSetupFailed, "API_URL environment variable is not set")
	}
	url := fmt.Sprintf("%s%s", c.BaseURL, path)

	jsonData, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRequestSetupFailed, "could not encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRequestSetupFailed, "could not build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if withKey {
		req.Header.Set("x-api-key", c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		log.Printf("[SAVE] POST %s failed: %v", path, err)
		return apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "Could not connect to the API service.", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("[SAVE] POST %s returned %d: %s", path, resp.StatusCode, string(respBody))
		msg := fmt.Sprintf("API responded with status %d", resp.StatusCode)
		var ue upstreamError
		if json.Unmarshal(respBody, &ue) == nil {
			if ue.Error != "" {
				msg = ue.Error
			} else if ue.Message != "" {
				msg = ue.Message
			}
		}
		return apperrors.WithMetadata(apperrors.CodeUpstreamRejected, msg,
			map[string]string{"status": fmt.Sprint(resp.StatusCode)})
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.Wrap(apperrors.CodeMalformedResponse, "API returned a response that could not be read.", err)
	}
	return nil
}
