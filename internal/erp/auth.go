package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrInvalidCredentials is returned by Login for every failure, whatever the cause.
// The cause is only reported to telemetry.
var ErrInvalidCredentials = fmt.Errorf("Incorrect username or password.")

// Session is the credential obtained from Login. Token is secret.
type Session struct {
	Token     string
	SessionId string
	UserId    int64
}

// LogValue keeps the token out of logs.
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("session_id", s.SessionId),
		slog.Int64("uid", s.UserId),
	)
}

// NormalizeUsername upper-cases a username, portal logins are upper-case
// institutional ids and the portal compares them case-sensitively.
func NormalizeUsername(username string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(username))
}

type authenticateParams struct {
	Db           string         `json:"db"`
	Login        string         `json:"login"`
	Password     string         `json:"password"`
	BaseLocation string         `json:"base_location"`
	Context      map[string]any `json:"context"`
}

type authenticateResult struct {
	Uid       json.RawMessage `json:"uid"`
	SessionId string          `json:"session_id"`
}

// parseUid accepts a positive integer uid, the portal answers `false` for a failed login.
func parseUid(raw json.RawMessage) (int64, bool) {
	uid, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || uid <= 0 {
		return 0, false
	}
	return uid, true
}

// sessionToken takes the value of the first cookie set by the response, the
// portal sets its session cookie first.
func sessionToken(setCookie []string) (string, bool) {
	if len(setCookie) == 0 {
		return "", false
	}
	pair, _, _ := strings.Cut(setCookie[0], ";")
	_, value, found := strings.Cut(pair, "=")
	value = strings.TrimSpace(value)
	if !found || value == "" {
		return "", false
	}
	return value, true
}

// Login exchanges a username and password for a Session.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	ctx, span := tracer.Start(ctx, "erp:Login")
	defer span.End()

	fail := func(cause error) (Session, error) {
		c.tel.ReportWarning(report_client_login, cause)
		span.SetStatus(codes.Error, ErrInvalidCredentials.Error())
		return Session{}, ErrInvalidCredentials
	}

	res, rpc, err := c.post(ctx, "/session/authenticate", authenticateParams{
		Db:           c.database,
		Login:        NormalizeUsername(username),
		Password:     password,
		BaseLocation: c.BaseUrl.String(),
		Context:      map[string]any{},
	}, "")
	if err != nil {
		return fail(err)
	}
	if rpc.Error != nil {
		return fail(fmt.Errorf("remote fault: %s", rpc.Error.Message))
	}

	var result authenticateResult
	err = json.Unmarshal(rpc.Result, &result)
	if err != nil {
		return fail(fmt.Errorf("unmarshal result: %w", err))
	}
	uid, ok := parseUid(result.Uid)
	if !ok {
		return fail(fmt.Errorf("no uid in result"))
	}
	token, ok := sessionToken(res.Header().Values("Set-Cookie"))
	if !ok {
		return fail(fmt.Errorf("no session cookie in response"))
	}

	return Session{
		Token:     token,
		SessionId: result.SessionId,
		UserId:    uid,
	}, nil
}
