package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type AuthTokenSource string

const (
	AuthTokenSourceExplicit AuthTokenSource = "explicit"
	AuthTokenSourceEnv      AuthTokenSource = "env"
	AuthTokenSourceGitHubCL AuthTokenSource = "gh"
)

// TokenEnvVars lists the environment variables consulted, in order.
var TokenEnvVars = []string{"IMAGEUTILS_GITHUB_TOKEN", "GITHUB_TOKEN"}

// ghTimeout bounds `gh auth token` when the caller's context has no deadline.
const ghTimeout = 5 * time.Second

// ResolveAuthToken finds a token for the github:// source.
//
// Precedence:
//  1. provided (if non-empty)
//  2. IMAGEUTILS_GITHUB_TOKEN, then GITHUB_TOKEN
//  3. GitHub CLI: `gh auth token -h github.com`
//
// An empty token with a nil error means anonymous access. The token is never
// logged.
func ResolveAuthToken(ctx context.Context, provided string) (string, AuthTokenSource, error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, AuthTokenSourceExplicit, nil
	}
	for _, name := range TokenEnvVars {
		if tok := strings.TrimSpace(os.Getenv(name)); tok != "" {
			return tok, AuthTokenSourceEnv, nil
		}
	}

	tok, err := tokenFromGitHubCLI(ctx)
	if err != nil {
		return "", "", err
	}
	if tok == "" {
		return "", "", nil
	}
	return tok, AuthTokenSourceGitHubCL, nil
}

func tokenFromGitHubCLI(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ghTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "gh", "auth", "token", "-h", "github.com")
	env := make([]string, 0, len(os.Environ())+1)
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, "GH_PAGER=") {
			env = append(env, entry)
		}
	}
	cmd.Env = append(env, "GH_PAGER=cat")

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// gh installed but not logged in: anonymous access. Its output is
		// not surfaced.
		return "", nil
	}

	tok := strings.TrimSpace(string(out))
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, nil
}
