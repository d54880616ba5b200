package notifications

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Categories of announcements
const (
	STAKE    = "stake"
	CLAIM    = "claim"
	PAY      = "pay"
	MIGRATE  = "migrate"
	TRANSFER = "transfer"
	ERROR    = "error"
)

const (
	TELEGRAM = "telegram"
	EMAIL    = "email"

	// ERROR announcements of the same text are suppressed for this long
	errorQuietPeriod = 10 * time.Minute
)

type Notifier interface {
	Send(string)
	IsEnabled() bool
}

// Storage persists notifier configs as raw JSON
type Storage interface {
	GetNotifiersConfig(notifier string) ([]byte, error)
	SaveNotifiersConfig(notifier string, config []byte) error
}

type NotificationHandler struct {
	notifiers map[string]Notifier
	storage   Storage
	lastError map[string]time.Time
	lock      sync.RWMutex
}

func NewHandler(storage Storage) (*NotificationHandler, error) {

	n := &NotificationHandler{
		notifiers: make(map[string]Notifier, 2),
		storage:   storage,
		lastError: make(map[string]time.Time),
	}

	if err := n.LoadNotifiers(); err != nil {
		return nil, errors.Wrap(err, "Failed New Notification")
	}

	return n, nil
}

func (n *NotificationHandler) LoadNotifiers() error {

	for _, notifier := range []string{TELEGRAM, EMAIL} {

		config, err := n.storage.GetNotifiersConfig(notifier)
		if err != nil {
			return errors.Wrapf(err, "Unable to load %s config", notifier)
		}

		// Nothing configured yet
		if len(config) == 0 {
			continue
		}

		// Don't save what we just loaded
		if err := n.Configure(notifier, config, false); err != nil {
			return errors.Wrapf(err, "Unable to init %s", notifier)
		}
	}

	return nil
}

func (n *NotificationHandler) Configure(notifier string, config []byte, saveConfig bool) error {

	var nt Notifier
	var err error

	switch notifier {
	case TELEGRAM:
		nt, err = n.NewTelegram(config, saveConfig)
	case EMAIL:
		nt, err = n.NewEmail(config, saveConfig)
	default:
		return errors.New("Unknown notification type")
	}

	if err != nil {
		return err
	}

	n.lock.Lock()
	n.notifiers[notifier] = nt
	n.lock.Unlock()

	return nil
}

// Notify sends a categorized message to every enabled notifier
func (n *NotificationHandler) Notify(category, message string) {

	if category == ERROR && n.quiet(message) {
		log.WithField("MSG", message).Debug("Suppressed repeated error notification")
		return
	}

	n.Send(fmt.Sprintf("[%s] %s", category, message))
}

func (n *NotificationHandler) Send(message string) {

	n.lock.RLock()
	defer n.lock.RUnlock()

	for name, notifier := range n.notifiers {
		if !notifier.IsEnabled() {
			log.WithField("Notifier", name).Trace("Notifier disabled")
			continue
		}

		notifier.Send(message)
	}
}

func (n *NotificationHandler) quiet(message string) bool {
	n.lock.Lock()
	defer n.lock.Unlock()

	if last, ok := n.lastError[message]; ok && time.Since(last) < errorQuietPeriod {
		return true
	}
	n.lastError[message] = time.Now()

	return false
}

func (n *NotificationHandler) TestSend(notifier, message string) error {

	n.lock.RLock()
	defer n.lock.RUnlock()

	nt, ok := n.notifiers[notifier]
	if !ok {
		return errors.Errorf("Notifier %s is not configured", notifier)
	}

	nt.Send(message)

	return nil
}

func (n *NotificationHandler) GetConfig() (json.RawMessage, error) {

	n.lock.RLock()
	defer n.lock.RUnlock()

	// Return RawMessage so as not to double Marshal
	bts, err := json.Marshal(n.notifiers)

	return json.RawMessage(bts), err
}
