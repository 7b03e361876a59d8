package notifier

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tradefloor/internal/logger"
	"tradefloor/internal/pkg/text"
)

const defaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

// Pushover sends plain text pushes through the Pushover message API.
// Unconfigured instances log the message instead of failing, so the floor
// runs fine without credentials.
type Pushover struct {
	UserKey  string
	AppToken string
	Priority int
	Endpoint string
	Client   *http.Client
}

func NewPushover(userKey, appToken string) *Pushover {
	return &Pushover{
		UserKey:  userKey,
		AppToken: appToken,
		Endpoint: defaultPushoverEndpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *Pushover) Configured() bool {
	return p != nil && p.UserKey != "" && p.AppToken != ""
}

// SendText pushes text with up to 3 retries.
func (p *Pushover) SendText(msg string) error {
	if !p.Configured() {
		logger.Infof("notifier: pushover not configured, message: %s", text.Truncate(msg, 200))
		return nil
	}
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = defaultPushoverEndpoint
	}
	form := url.Values{
		"user":    {p.UserKey},
		"token":   {p.AppToken},
		"message": {msg},
	}
	if p.Priority != 0 {
		form.Set("priority", strconv.Itoa(p.Priority))
	}

	var lastErr error
	for i := 0; i < 3; i++ {
		resp, err := p.Client.PostForm(endpoint, form)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("pushover status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	return lastErr
}
