package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lysyi3m/concierge/app/event"
)

const (
	DefaultTelegramAPI  = "https://api.telegram.org"
	telegramUpdateLimit = 100
)

// TelegramAdapter polls the Bot API for recent messages of one chat. The
// source URL holds the chat id.
type TelegramAdapter struct {
	fetcher *Fetcher
	token   string
	apiBase string
}

func NewTelegramAdapter(fetcher *Fetcher, token, apiBase string) *TelegramAdapter {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	return &TelegramAdapter{
		fetcher: fetcher,
		token:   token,
		apiBase: strings.TrimRight(apiBase, "/"),
	}
}

type telegramResponse struct {
	OK          bool             `json:"ok"`
	Description string           `json:"description"`
	Result      []telegramUpdate `json:"result"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

func (a *TelegramAdapter) Fetch(ctx context.Context, cfg *Config) ([]byte, error) {
	if a.token == "" {
		return nil, fmt.Errorf("telegram bot token not configured: %w", ErrSourceSkipped)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(telegramUpdateLimit))
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?%s", a.apiBase, a.token, query.Encode())

	return a.fetcher.Get(ctx, endpoint, cfg.TimeoutDuration())
}

func (a *TelegramAdapter) Parse(data []byte, cfg *Config) ([]event.RawCandidate, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return ParseTelegramUpdates(data, strings.TrimSpace(cfg.URL), NewTextExtractor(cfg.Location()))
}

// ParseTelegramUpdates keeps text messages from chatID that read as event
// announcements.
func ParseTelegramUpdates(data []byte, chatID string, extractor *TextExtractor) ([]event.RawCandidate, error) {
	var resp telegramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode Telegram response: %w", err)
	}

	if !resp.OK {
		return nil, fmt.Errorf("telegram API error: %s", resp.Description)
	}

	var candidates []event.RawCandidate
	for _, update := range resp.Result {
		msg := update.Message
		if msg == nil || msg.Text == "" {
			continue
		}
		if strconv.FormatInt(msg.Chat.ID, 10) != chatID {
			continue
		}

		candidate, ok := extractor.ParseMessage(msg.Text)
		if !ok {
			continue
		}
		candidate.SourceEventID = strconv.FormatInt(msg.MessageID, 10)
		candidates = append(candidates, candidate)
	}

	return candidates, nil
}
