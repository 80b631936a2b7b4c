// Package portals 是门户服务 (远程会话的分配方) 的 HTTP 客户端。
package portals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Client 调用门户服务的创建和销毁接口。
// 每个请求都带有 "Valve <token>" 认证头，token 是用共享密钥签名的 {roomId}。
type Client struct {
	baseURL    string
	key        []byte
	httpClient *http.Client
}

// NewClient 创建门户服务客户端。
func NewClient(baseURL, key string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("portals: base url cannot be empty")
	}
	if key == "" {
		return nil, fmt.Errorf("portals: api key cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		key:        []byte(key),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Create 请求为房间分配门户，返回门户服务的响应体 (队列信息)。
func (c *Client) Create(ctx context.Context, roomID string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"roomId": roomID})
	if err != nil {
		return nil, fmt.Errorf("portals: marshal create request: %w", err)
	}
	logrus.WithField("room_id", roomID).Info("Requesting portal creation")
	return c.do(ctx, http.MethodPost, c.baseURL+"create", roomID, body)
}

// Destroy 请求销毁门户。
func (c *Client) Destroy(ctx context.Context, roomID, portalID string) error {
	if portalID == "" {
		return nil
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "portal_id": portalID}).Info("Requesting portal teardown")
	_, err := c.do(ctx, http.MethodDelete, c.baseURL+url.PathEscape(portalID), roomID, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, target, roomID string, body []byte) (json.RawMessage, error) {
	token, err := c.roomToken(roomID)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("portals: build %s request: %w", method, err)
	}
	req.Header.Set("Authorization", "Valve "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portals: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("portals: read response of %s %s: %w", method, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("portals: %s %s returned status %d", method, target, resp.StatusCode)
	}
	if len(bytes.TrimSpace(payload)) == 0 || !json.Valid(payload) {
		return nil, nil
	}
	return json.RawMessage(payload), nil
}

func (c *Client) roomToken(roomID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"roomId": roomID,
		"iat":    time.Now().Unix(),
	})
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("portals: sign room token: %w", err)
	}
	return signed, nil
}
