package integrations

import (
	"context"
	"net/http"
	"strconv"
)

type GitHubProvider struct {
	client  *http.Client
	baseURL string
}

func NewGitHubProvider(client *http.Client, baseURL string) *GitHubProvider {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	return &GitHubProvider{
		client:  orDefaultClient(client),
		baseURL: baseURL,
	}
}

func (p *GitHubProvider) Actions() []string {
	return []string{"create_issue", "list_repos"}
}

func (p *GitHubProvider) Execute(ctx context.Context, token, action string, params map[string]any) (map[string]any, error) {
	switch action {
	case "create_issue":
		return p.createIssue(ctx, token, params)
	case "list_repos":
		return doJSON(ctx, p.client, token, http.MethodGet, p.baseURL+"/user/repos", nil)
	default:
		return nil, ErrUnknownAction
	}
}

func (p *GitHubProvider) createIssue(ctx context.Context, token string, params map[string]any) (map[string]any, error) {
	owner, err := requiredString(params, "owner")
	if err != nil {
		return nil, err
	}

	repo, err := requiredString(params, "repo")
	if err != nil {
		return nil, err
	}

	title, err := requiredString(params, "title")
	if err != nil {
		return nil, err
	}

	return doJSON(ctx, p.client, token, http.MethodPost, p.baseURL+"/repos/"+owner+"/"+repo+"/issues", map[string]any{
		"title": title,
		"body":  optionalString(params, "body"),
	})
}

func (p *GitHubProvider) Identify(ctx context.Context, token string) (*RemoteAccount, error) {
	result, err := doJSON(ctx, p.client, token, http.MethodGet, p.baseURL+"/user", nil)
	if err != nil {
		return nil, err
	}

	account := &RemoteAccount{}

	if id, ok := result["id"].(float64); ok {
		account.ID = strconv.FormatInt(int64(id), 10)
	}

	account.Name, _ = result["name"].(string)
	if account.Name == "" {
		account.Name, _ = result["login"].(string)
	}

	return account, nil
}
