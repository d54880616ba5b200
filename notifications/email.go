package notifications

import (
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type NotifyEmail struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	SMTPHost string   `json:"smtphost"`
	SMTPPort int      `json:"smtpport"`
	To       []string `json:"to"`
	Enabled  bool     `json:"enabled"`

	storage Storage
	send    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func (n *NotificationHandler) NewEmail(config []byte, saveConfig bool) (*NotifyEmail, error) {

	ne := &NotifyEmail{
		Enabled:  true,
		SMTPPort: 587,
		storage:  n.storage,
		send:     smtp.SendMail,
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, ne); err != nil {
			return nil, errors.Wrap(err, "Unable to unmarshal email config")
		}
	}

	if ne.Enabled && (ne.SMTPHost == "" || len(ne.To) == 0) {
		return nil, errors.New("Email needs an SMTP host and at least one recipient")
	}

	if saveConfig {
		if err := ne.SaveConfig(); err != nil {
			return nil, err
		}
	}

	return ne, nil
}

func (n *NotifyEmail) IsEnabled() bool {
	return n.Enabled
}

func (n *NotifyEmail) Send(msg string) {

	addr := fmt.Sprintf("%s:%d", n.SMTPHost, n.SMTPPort)

	var auth smtp.Auth
	if n.Username != "" {
		auth = smtp.PlainAuth("", n.Username, n.Password, n.SMTPHost)
	}

	body := fmt.Sprintf("To: %s\r\nSubject: satslink\r\n\r\n%s\r\n", strings.Join(n.To, ", "), msg)

	if err := n.send(addr, auth, n.Username, n.To, []byte(body)); err != nil {
		log.WithError(err).WithField("Host", addr).Error("Unable to send email notification")
		return
	}

	log.WithField("MSG", msg).Info("Sent Email Message")
}

func (n *NotifyEmail) SaveConfig() error {

	// Marshal ourselves to []byte and send to storage manager
	config, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "Unable to marshal email config")
	}

	if err := n.storage.SaveNotifiersConfig(EMAIL, config); err != nil {
		return errors.Wrap(err, "Unable to save email config")
	}

	return nil
}
