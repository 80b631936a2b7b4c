package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"portal-gateway/internal/domain"
)

// apertureTokenTTL aperture 推流令牌的有效期
const apertureTokenTTL = time.Minute

// StreamConfig 为已打开的门户生成推流配置事件 (JANUS_CONFIG 或 APERTURE_CONFIG)。
type StreamConfig struct {
	apertureURL string
	apertureKey []byte
	now         func() time.Time
}

// NewStreamConfig 创建 StreamConfig。
func NewStreamConfig(apertureURL, apertureKey string) *StreamConfig {
	return &StreamConfig{apertureURL: apertureURL, apertureKey: []byte(apertureKey), now: time.Now}
}

// EventFor 返回门户对应的推流配置事件。
func (s *StreamConfig) EventFor(portal domain.PortalAllocation) (domain.Event, error) {
	if !portal.HasID() {
		return domain.Event{}, ErrNoPortalFound
	}
	if portal.UsesJanus() {
		return domain.NewEvent(domain.EventJanusConfig, map[string]any{
			"id": *portal.JanusID,
			"ip": portal.JanusIP,
		}), nil
	}

	now := s.now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  *portal.ID,
		"iat": now.Unix(),
		"exp": now.Add(apertureTokenTTL).Unix(),
	}).SignedString(s.apertureKey)
	if err != nil {
		return domain.Event{}, fmt.Errorf("sign aperture token: %w", err)
	}
	return domain.NewEvent(domain.EventApertureConfig, map[string]any{
		"ws": s.apertureURL,
		"t":  token,
	}), nil
}
