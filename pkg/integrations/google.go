package integrations

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
)

type GoogleProvider struct {
	client      *http.Client
	gmailBase   string
	accountBase string
}

// NewGoogleProvider builds a provider against the public Google APIs.
// A non-empty baseURL points both the Gmail and account hosts at it.
func NewGoogleProvider(client *http.Client, baseURL string) *GoogleProvider {
	p := &GoogleProvider{
		client:      orDefaultClient(client),
		gmailBase:   "https://gmail.googleapis.com",
		accountBase: "https://www.googleapis.com",
	}

	if baseURL != "" {
		p.gmailBase = baseURL
		p.accountBase = baseURL
	}

	return p
}

func (p *GoogleProvider) Actions() []string {
	return []string{"send_email", "list_emails"}
}

func (p *GoogleProvider) Execute(ctx context.Context, token, action string, params map[string]any) (map[string]any, error) {
	switch action {
	case "send_email":
		return p.sendEmail(ctx, token, params)
	case "list_emails":
		return p.listEmails(ctx, token, params)
	default:
		return nil, ErrUnknownAction
	}
}

func (p *GoogleProvider) sendEmail(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	to, err := requiredString(params, "to")
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf(
		"To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s",
		to,
		optionalString(params, "subject"),
		optionalString(params, "body"),
	)

	return doJSON(ctx, p.client, token, http.MethodPost, p.gmailBase+"/gmail/v1/users/me/messages/send", map[string]any{
		"raw": base64.RawURLEncoding.EncodeToString([]byte(message)),
	})
}

func (p *GoogleProvider) listEmails(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	endpoint := p.gmailBase + "/gmail/v1/users/me/messages"

	if query := optionalString(params, "query"); query != "" {
		endpoint += "?" + url.Values{"q": []string{query}}.Encode()
	}

	return doJSON(ctx, p.client, token, http.MethodGet, endpoint, nil)
}

func (p *GoogleProvider) Identify(ctx context.Context, token string) (*RemoteAccount, error) {
	result, err := doJSON(ctx, p.client, token, http.MethodGet, p.accountBase+"/oauth2/v2/userinfo", nil)
	if err != nil {
		return nil, err
	}

	account := &RemoteAccount{}
	account.ID, _ = result["id"].(string)

	account.Name, _ = result["name"].(string)
	if account.Name == "" {
		account.Name, _ = result["email"].(string)
	}

	return account, nil
}
