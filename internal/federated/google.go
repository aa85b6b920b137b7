package federated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pribylovaa/volunteer-hub/internal/models"
	"github.com/pribylovaa/volunteer-hub/internal/pkg/log"
)

const maxTokenInfoBody = 64 << 10

var googleIssuers = map[string]bool{
	"accounts.google.com":         true,
	"https://accounts.google.com": true,
}

// Google проверяет Google ID token через endpoint tokeninfo.
type Google struct {
	clientID string
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

// NewGoogle создаёт верификатор. client == nil означает http.DefaultClient.
func NewGoogle(clientID, endpoint string, timeout time.Duration, client *http.Client) *Google {
	if client == nil {
		client = http.DefaultClient
	}

	return &Google{
		clientID: clientID,
		endpoint: endpoint,
		timeout:  timeout,
		client:   client,
	}
}

type tokenInfo struct {
	Aud           string   `json:"aud"`
	Iss           string   `json:"iss"`
	Sub           string   `json:"sub"`
	Email         string   `json:"email"`
	EmailVerified flexBool `json:"email_verified"`
	Name          string   `json:"name"`
}

// flexBool принимает и true, и "true": tokeninfo отдаёт булевы поля строками.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true":
		*b = true
	case "false", "null", "":
		*b = false
	default:
		return fmt.Errorf("bad bool %s", data)
	}

	return nil
}

// Verify запрашивает tokeninfo с ограничением по времени.
// Таймаут и любой отказ провайдера дают ErrInvalidToken.
func (g *Google) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	const op = "federated.Google.Verify"

	lg := log.From(ctx)

	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	u := g.endpoint + "?" + url.Values{"id_token": {rawToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			lg.Warn("google_tokeninfo_timeout", slog.String("op", op))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}

		lg.Error("google_tokeninfo_failed",
			slog.String("op", op),
			log.Err(err),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		lg.Info("google_token_rejected",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	var info tokenInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenInfoBody)).Decode(&info); err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	switch {
	case g.clientID != "" && info.Aud != g.clientID:
		lg.Warn("google_token_audience_mismatch", slog.String("op", op))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	case !googleIssuers[info.Iss]:
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	case info.Sub == "" || info.Email == "" || !bool(info.EmailVerified):
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	name := strings.TrimSpace(info.Name)
	if name == "" {
		name, _, _ = strings.Cut(info.Email, "@")
	}

	return &Identity{
		Provider: models.ProviderGoogle,
		Subject:  info.Sub,
		Email:    strings.ToLower(info.Email),
		Name:     name,
	}, nil
}
