//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseURL = getEnv("OPENTRUSTY_API_URL", "http://127.0.0.1:8080")

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// TestClient is a minimal HTTP client for the protocol endpoints, carrying
// optional Bearer credentials (a session id, then an access token) the way a
// browser-based relying party would across a login → authorize → token flow.
type TestClient struct {
	httpClient *http.Client
	bearer     string
}

func NewTestClient() *TestClient {
	jar, _ := cookiejar.New(nil)
	return &TestClient{httpClient: &http.Client{Jar: jar, Timeout: 10 * time.Second}}
}

func (c *TestClient) doJSON(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBody)
	}
	req, _ := http.NewRequest(method, baseURL+path, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	return c.httpClient.Do(req)
}

func (c *TestClient) doForm(method, path string, form url.Values, clientID, clientSecret string) (*http.Response, error) {
	req, _ := http.NewRequest(method, baseURL+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if clientID != "" {
		req.SetBasicAuth(clientID, clientSecret)
	}
	return c.httpClient.Do(req)
}

// bootstrapCreds runs the server's bootstrap subcommand against the e2e
// test environment and parses the default Resource/Client it prints. The
// suite assumes a container or binary reachable as $OPENTRUSTY_BOOTSTRAP_CMD
// (defaulting to running the locally built binary directly).
func bootstrapCreds(t *testing.T) (clientID, clientSecret string) {
	t.Helper()

	bin := getEnv("OPENTRUSTY_BOOTSTRAP_CMD", "./opentrusty")
	cmd := exec.Command(bin, "bootstrap")
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "bootstrap command failed: %s", string(out))

	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "client_id=") {
			fields := strings.Fields(line)
			for _, f := range fields {
				if v, ok := strings.CutPrefix(f, "client_id="); ok {
					clientID = v
				}
				if v, ok := strings.CutPrefix(f, "client_secret="); ok {
					clientSecret = v
				}
			}
		}
	}
	require.NotEmpty(t, clientID, "bootstrap output did not contain client_id: %s", string(out))
	require.NotEmpty(t, clientSecret, "bootstrap output did not contain client_secret: %s", string(out))
	return clientID, clientSecret
}

// TestE2E_AuthorizationCodeFlow drives the full authorization-code + OIDC
// path end to end: register, log in, authorize, consent, redeem, introspect,
// userinfo.
func TestE2E_AuthorizationCodeFlow(t *testing.T) {
	clientID, clientSecret := bootstrapCreds(t)
	redirectURI := "http://localhost:8080/callback"

	client := NewTestClient()

	// Register an end user.
	email := fmt.Sprintf("e2e-%d@opentrusty.local", time.Now().UnixNano())
	password := "correct horse battery staple"
	resp, err := client.doJSON("POST", "/auth/register", map[string]string{
		"name":     email,
		"email":    email,
		"password": password,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Log in: the session id returned becomes the Bearer credential for
	// /oidc/authorize and /oidc/accept.
	resp, err = client.doJSON("POST", "/auth/login", map[string]string{
		"name":     email,
		"password": password,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.NotEmpty(t, loginResp.SessionID)
	client.bearer = loginResp.SessionID

	// First authorize call: no AcceptedClient record yet, so the engine
	// asks for consent rather than minting a code.
	state := "xyz123"
	nonce := "abc456"
	authorizeURL := fmt.Sprintf(
		"/oidc/authorize?client_id=%s&response_type=code&scope=%s&redirect_uri=%s&state=%s&nonce=%s",
		url.QueryEscape(clientID), url.QueryEscape("openid profile email"),
		url.QueryEscape(redirectURI), state, nonce,
	)
	resp, err = client.doJSON("GET", authorizeURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var acceptance struct {
		GrantID string `json:"grant_id"`
		Scope   []struct {
			Name string `json:"name"`
		} `json:"scope"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acceptance))
	require.NotEmpty(t, acceptance.GrantID)

	// Accept the client's requested scope.
	client.httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err = client.doJSON("POST", "/oidc/accept", map[string]string{
		"action":   "accept",
		"grant_id": acceptance.GrantID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := resp.Location()
	require.NoError(t, err)
	assert.Contains(t, loc.String(), "code=")
	assert.Contains(t, loc.String(), "state="+state)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// Redeem the code.
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	resp, err = client.doForm("POST", "/oidc/tokens", form, clientID, clientSecret)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokenResp))
	assert.NotEmpty(t, tokenResp.AccessToken)
	assert.NotEmpty(t, tokenResp.IDToken, "scope included openid, an id_token must be minted")
	assert.Equal(t, "Bearer", tokenResp.TokenType)

	// Introspect the access token.
	form = url.Values{}
	form.Set("token", tokenResp.AccessToken)
	resp, err = client.doForm("POST", "/oidc/introspect", form, clientID, clientSecret)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var introspectResp struct {
		Active   bool   `json:"active"`
		ClientID string `json:"client_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&introspectResp))
	assert.True(t, introspectResp.Active)
	assert.Equal(t, clientID, introspectResp.ClientID)

	// Userinfo.
	userinfoClient := NewTestClient()
	userinfoClient.bearer = tokenResp.AccessToken
	resp, err = userinfoClient.doJSON("GET", "/oidc/userinfo", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var userinfo struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&userinfo))
	assert.NotEmpty(t, userinfo.Sub)
	assert.Equal(t, email, userinfo.Email)

	// Public key.
	resp, err = http.Get(baseURL + "/oidc/publickey")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	pem, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(pem), "PUBLIC KEY")
}
