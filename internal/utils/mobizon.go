package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// Client — SMS-шлюз Mobizon (или имитация в dry-run режиме).
type Client struct {
	ApiKey string
	Sender string // опционально
	DryRun bool   // dry-run режим: ничего не шлём, только логируем

	httpClient *http.Client
}

type SendSMSResponse struct {
	Code int `json:"code"`
	Data struct {
		MessageID string `json:"messageId"`
	} `json:"data"`
}

func NewClient(apiKey string) *Client {
	return NewClientWithOptions(apiKey, "", false)
}

func NewClientWithOptions(apiKey, sender string, dryRun bool) *Client {
	return &Client{
		ApiKey:     apiKey,
		Sender:     sender,
		DryRun:     dryRun,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendText — отправка текста на номер. Тестовые номера (+1555...) и dry-run
// в API не ходят. Реализует services.SMSNotifier.
func (c *Client) SendText(to, text string) error {
	if c.DryRun || c.ApiKey == "" || c.ApiKey == "dry-run" || IsTestPhoneNumber(to) {
		log.Printf("[mobizon][dry-run] to=%s sender=%q text=%q", to, c.Sender, text)
		return nil
	}

	const apiURL = "https://api.mobizon.kz/service/message/sendsmsmessage"

	form := url.Values{
		"apiKey":    {c.ApiKey},
		"recipient": {to},
		"text":      {text},
	}
	if c.Sender != "" {
		form.Set("from", c.Sender)
	}

	resp, err := c.httpClient.PostForm(apiURL, form)
	if err != nil {
		return fmt.Errorf("send SMS request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var result SendSMSResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("mobizon returned error code: %d", result.Code)
	}
	log.Printf("[mobizon][sent] to=%s messageID=%s", to, result.Data.MessageID)
	return nil
}
