package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcelsud/webhook-relay/dispatcher/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destinations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  destinations:
    - name: local
      url: http://localhost:3000/hooks
  rules:
    - source: "*"
      destination: local
webhooks:
  wh_1:
    destinations:
      - name: billing
        url: http://localhost:4000/stripe
        timeout: 5s
    rules:
      - source: stripe
        destination: billing
      - source: github
        destination: ci
`), 0o644))

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "VALIDATION PASSED")
	assert.Contains(t, out, "Webhook: default")
	assert.Contains(t, out, "Webhook: wh_1")
	assert.Contains(t, out, "Timeout: 5s")
	assert.Contains(t, out, "rule: stripe -> billing")
	assert.Contains(t, out, "warning: no destination named ci")
}

func TestValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destinations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
webhooks:
  wh_1:
    destinations:
      - name: broken
        url: not-a-url
`), 0o644))

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "VALIDATION FAILED")
}

func TestSecret(t *testing.T) {
	out, err := execute(t, "secret", "--bytes", "24")
	require.NoError(t, err)

	encoded := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(encoded, signature.SecretPrefix))
	_, err = signature.ParseSecret(encoded)
	assert.NoError(t, err)

	_, err = execute(t, "secret", "--bytes", "8")
	assert.Error(t, err)
}
