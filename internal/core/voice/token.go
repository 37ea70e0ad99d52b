package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// VideoGrant is the LiveKit room permission block. Field names follow the
// LiveKit token format.
type VideoGrant struct {
	RoomJoin          bool     `json:"roomJoin,omitempty"`
	Room              string   `json:"room,omitempty"`
	CanPublish        *bool    `json:"canPublish,omitempty"`
	CanSubscribe      *bool    `json:"canSubscribe,omitempty"`
	CanPublishData    *bool    `json:"canPublishData,omitempty"`
	CanPublishSources []string `json:"canPublishSources,omitempty"`
}

type Claims struct {
	jwt.RegisteredClaims
	Name     string      `json:"name,omitempty"`
	Video    *VideoGrant `json:"video,omitempty"`
	Metadata string      `json:"metadata,omitempty"`
}

// Metadata travels inside the token so the voice agent knows who joined.
type Metadata struct {
	UserID       string `json:"userId"`
	AssignmentID string `json:"assignmentId,omitempty"`
	ScenarioID   string `json:"scenarioId,omitempty"`
}

type Token struct {
	Token     string    `json:"token"`
	Room      string    `json:"room"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Minter issues least-privilege room tokens: join, subscribe and publish the
// microphone only; no data channel.
type Minter struct {
	apiKey    string
	apiSecret string
	url       string
	ttl       time.Duration
	now       func() time.Time
}

func NewMinter(apiKey, apiSecret, url string, ttl time.Duration) (*Minter, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("voice api key and secret are required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Minter{apiKey: apiKey, apiSecret: apiSecret, url: url, ttl: ttl, now: time.Now}, nil
}

// Mint creates a token for a fresh room named after a random id.
func (m *Minter) Mint(identity, displayName string, meta Metadata) (*Token, error) {
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	now := m.now()
	room := "rehearsal-" + uuid.NewString()
	yes, no := true, false
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.apiKey,
			Subject:   identity,
			ID:        identity,
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Name: displayName,
		Video: &VideoGrant{
			RoomJoin:          true,
			Room:              room,
			CanPublish:        &yes,
			CanSubscribe:      &yes,
			CanPublishData:    &no,
			CanPublishSources: []string{"microphone"},
		},
		Metadata: string(rawMeta),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.apiSecret))
	if err != nil {
		return nil, fmt.Errorf("sign voice token: %w", err)
	}
	return &Token{Token: signed, Room: room, URL: m.url, ExpiresAt: now.Add(m.ttl)}, nil
}
