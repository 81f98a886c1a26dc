package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentstation/banrelay/internal/enrich"
	"github.com/agentstation/banrelay/internal/transport"
	"github.com/agentstation/banrelay/pkg/errors"
)

// Bananobot serves the Discord identity list. Source is either the users
// endpoint URL or a local users.json export.
type Bananobot struct {
	source string
	client *transport.Client
}

// NewBananobot creates the identity provider. client may be nil for file
// sources.
func NewBananobot(source string, client *transport.Client) *Bananobot {
	return &Bananobot{source: source, client: client}
}

// Name implements enrich.Provider.
func (b *Bananobot) Name() string {
	return BananobotName
}

// Source returns the configured URL or path.
func (b *Bananobot) Source() string {
	return b.source
}

// bananobotUser is one element of the users list.
type bananobotUser struct {
	Address  string `json:"address"`
	UserID   userID `json:"user_id"`
	LastName string `json:"user_last_known_name"`
}

// userID accepts both numeric and string Discord snowflakes.
type userID string

// UnmarshalJSON implements json.Unmarshaler.
func (u *userID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}

	// Snowflakes exceed float64 precision, so keep the literal digits.
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return fmt.Errorf("user_id: %s is not an integer", n)
	}
	*u = userID(n.String())
	return nil
}

// Fetch implements enrich.Provider.
func (b *Bananobot) Fetch(ctx context.Context) (map[string]enrich.Identity, error) {
	var users []bananobotUser

	if isRemote(b.source) {
		client := clientOrDefault(b.client, BananobotName)
		if err := client.GetJSON(ctx, b.source, &users); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(b.source)
		if err != nil {
			return nil, errors.WrapIO("read", b.source, err)
		}
		if err := json.Unmarshal(data, &users); err != nil {
			return nil, errors.WrapParse("json", b.source, err)
		}
	}

	out := make(map[string]enrich.Identity, len(users))
	for _, u := range users {
		if u.Address == "" || u.UserID == "" {
			continue
		}
		out[u.Address] = enrich.Identity{
			Address: u.Address,
			UserID:  string(u.UserID),
			Name:    u.LastName,
		}
	}
	return out, nil
}
