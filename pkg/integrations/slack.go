package integrations

import (
	"context"
	"fmt"
	"net/http"

	"github.com/loki-platform/loki/pkg/vault"
)

// slackAuthErrors lists the Slack error codes that mean the token is
// dead rather than the request being wrong.
var slackAuthErrors = map[string]bool{
	"not_authed":       true,
	"invalid_auth":     true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
}

type SlackProvider struct {
	client  *http.Client
	baseURL string
}

func NewSlackProvider(client *http.Client, baseURL string) *SlackProvider {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}

	return &SlackProvider{
		client:  orDefaultClient(client),
		baseURL: baseURL,
	}
}

func (p *SlackProvider) Actions() []string {
	return []string{"send_message", "list_channels"}
}

func (p *SlackProvider) Execute(ctx context.Context, token, action string, params map[string]any) (map[string]any, error) {
	switch action {
	case "send_message":
		return p.sendMessage(ctx, token, params)
	case "list_channels":
		return p.checkOK(doJSON(ctx, p.client, token, http.MethodGet, p.baseURL+"/conversations.list", nil))
	default:
		return nil, ErrUnknownAction
	}
}

func (p *SlackProvider) sendMessage(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	channel, err := requiredString(params, "channel")
	if err != nil {
		return nil, err
	}

	text, err := requiredString(params, "text")
	if err != nil {
		return nil, err
	}

	return p.checkOK(doJSON(ctx, p.client, token, http.MethodPost, p.baseURL+"/chat.postMessage", map[string]any{
		"channel": channel,
		"text":    text,
	}))
}

func (p *SlackProvider) Identify(ctx context.Context, token string) (*RemoteAccount, error) {
	result, err := p.checkOK(doJSON(ctx, p.client, token, http.MethodGet, p.baseURL+"/auth.test", nil))
	if err != nil {
		return nil, err
	}

	id, _ := result["user_id"].(string)
	name, _ := result["user"].(string)
	workspace, _ := result["team"].(string)

	return &RemoteAccount{ID: id, Name: name, Workspace: workspace}, nil
}

// checkOK maps Slack's 200-with-ok:false convention onto real errors.
func (p *SlackProvider) checkOK(result map[string]any, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}

	ok, present := result["ok"].(bool)
	if !present || ok {
		return result, nil
	}

	code, _ := result["error"].(string)
	if slackAuthErrors[code] {
		return nil, fmt.Errorf("slack rejected token (%s): %w", code, vault.ErrReauthRequired)
	}

	return nil, fmt.Errorf("slack responded with error %q", code)
}
