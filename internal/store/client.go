package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/RathijitAich/HomeChatBack/internal/config"
	"github.com/RathijitAich/HomeChatBack/internal/models"
)

// Client is a wrapper around the message store REST API, the durable home of
// all chat history. The store is an external collaborator; this client only
// speaks its HTTP contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.StoreURL,
		httpClient: &http.Client{
			Timeout: cfg.StoreTimeout,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	requestURL := fmt.Sprintf("%s/api/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("message store error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// ListMessages retrieves every message involving the given participant,
// in no particular order. Records failing the ingestion contract are dropped.
func (c *Client) ListMessages(ctx context.Context, participantEmail string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("messages/participant/%s", url.PathEscape(participantEmail))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := json.Unmarshal(respBody, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	return models.ValidMessages(messages), nil
}

// GetHistory retrieves the two-party message history between user1 and user2.
func (c *Client) GetHistory(ctx context.Context, user1, user2 string) ([]models.Message, error) {
	endpoint := fmt.Sprintf(
		"messages/history?user1=%s&user2=%s",
		url.QueryEscape(user1),
		url.QueryEscape(user2),
	)
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := json.Unmarshal(respBody, &messages); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}

	return models.ValidMessages(messages), nil
}

// SendMessage submits a new message over the request/response fallback path
// and returns the stored record with its server-assigned id and sentAt.
func (c *Client) SendMessage(ctx context.Context, submission models.MessageSubmission) (*models.Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "messages", submission)
	if err != nil {
		return nil, err
	}

	var message models.Message
	if err := json.Unmarshal(respBody, &message); err != nil {
		return nil, fmt.Errorf("failed to parse created message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return nil, fmt.Errorf("store returned invalid message: %w", err)
	}

	return &message, nil
}
