package notifications

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const TELEGRAM_API = "https://api.telegram.org"

type NotifyTelegram struct {
	ChatIDs []int64 `json:"chatids"`
	APIKey  string  `json:"apikey"`
	Enabled bool    `json:"enabled"`

	apiBase string
	storage Storage
}

// NewTelegram creates a new NotifyTelegram object using a JSON byte-stream
// provided from either DB lookup or the local API.
//
// If saveConfig is true, save the new object's config to DB. Normally would not
// do this if we just loaded from DB on startup, but would want to do this
// after getting new config from the API.
func (n *NotificationHandler) NewTelegram(config []byte, saveConfig bool) (*NotifyTelegram, error) {

	nt := &NotifyTelegram{
		Enabled: true,
		apiBase: TELEGRAM_API,
		storage: n.storage,
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, nt); err != nil {
			return nil, errors.Wrap(err, "Unable to unmarshal telegram config")
		}
	}

	if nt.Enabled && (nt.APIKey == "" || len(nt.ChatIDs) == 0) {
		return nil, errors.New("Telegram needs an API key and at least one chat id")
	}

	if saveConfig {
		if err := nt.SaveConfig(); err != nil {
			return nil, err
		}
	}

	return nt, nil
}

func (n *NotifyTelegram) IsEnabled() bool {
	return n.Enabled
}

func (n *NotifyTelegram) Send(msg string) {

	// HTTP client 10s timeout
	client := &http.Client{
		Timeout: time.Second * 10,
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.APIKey)

	// Loop over chatIds, sending message
	for _, id := range n.ChatIDs {
		sendMessage(client, endpoint, msg, id)
	}

	log.WithField("MSG", msg).Info("Sent Telegram Message(s)")
}

func sendMessage(client *http.Client, endpoint, msg string, chatID int64) {

	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	q.Set("text", msg)

	resp, err := client.Get(endpoint + "?" + q.Encode())
	if err != nil {
		log.WithField("ChatId", chatID).WithError(err).Error("Unable to send telegram message")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithField("ChatId", chatID).WithError(err).Error("Unable to read telegram message response")
		return
	}

	log.WithField("Resp", string(body)).Debug("Telegram Reply")
}

func (n *NotifyTelegram) SaveConfig() error {

	// Marshal ourselves to []byte and send to storage manager
	config, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "Unable to marshal telegram config")
	}

	if err := n.storage.SaveNotifiersConfig(TELEGRAM, config); err != nil {
		return errors.Wrap(err, "Unable to save telegram config")
	}

	return nil
}
