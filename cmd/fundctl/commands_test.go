package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/adapters/security"
	"github.com/l0kol/IPledge/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func tierFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDistributeDefaultTable(t *testing.T) {
	out, err := run(t, "distribute", "--amount", "25000")
	require.NoError(t, err)

	var got struct {
		Amount     domain.Money      `json:"amount"`
		Allocation domain.Allocation `json:"allocation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, domain.Major(25000), got.Amount)
	assert.Equal(t, domain.Major(16000), got.Allocation.Creator)
	assert.Equal(t, domain.Major(7750), got.Allocation.Investor)
	assert.Equal(t, domain.Major(1250), got.Allocation.Protocol)
}

func TestDistributeRejectsBadAmount(t *testing.T) {
	_, err := run(t, "distribute", "--amount", "twelve")
	require.Error(t, err)
}

func TestValidateTiers(t *testing.T) {
	good := tierFixture(t, `
tiers:
  - upper_bound: "500"
    creator: "0.8"
    investor: "0.15"
    protocol: "0.05"
  - upper_bound: unbounded
    creator: "0.5"
    investor: "0.45"
    protocol: "0.05"
`)
	out, err := run(t, "validate-tiers", "--tiers", good)
	require.NoError(t, err)
	assert.Equal(t, "ok: 2 tiers\n", out)

	bad := tierFixture(t, `
policy:
  tiers:
    - creator: "0.9"
      investor: "0.9"
      protocol: "0"
`)
	_, err = run(t, "validate-tiers", "--tiers", bad)
	require.ErrorIs(t, err, domain.ErrInvalidTierConfig)
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	t.Setenv("JWT_HMAC_SECRET", "a-local-secret-of-some-length")
	out, err := run(t, "token", "--subject", "ops_1", "--role", "operator")
	require.NoError(t, err)

	verifier, err := security.NewHMACTokenVerifier("a-local-secret-of-some-length", "")
	require.NoError(t, err)
	claims, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "ops_1", claims.SubjectID)
	assert.Equal(t, "operator", claims.Role)

	_, err = run(t, "token", "--subject", "ops_1", "--role", "admin")
	require.ErrorContains(t, err, "unknown role")
}
