package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gw-resize/pkg/cloud"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ProviderAzure, cfg.Cloud.Provider)
	assert.Equal(t, "routes_save.txt", cfg.Snapshot.File)
	assert.Equal(t, 30*time.Second, cfg.Resize.RedirectToActiveWait)
	assert.True(t, cfg.Resize.VerifyResize)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
controller:
  host: 10.1.1.1
  user: admin
cloud:
  provider: simulator
  simulator_url: http://127.0.0.1:8443
  azure:
    tenantId: t-1
resize:
  redirect_to_ha_wait: 45s
  rollback_resize: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", cfg.Controller.Host)
	assert.Equal(t, ProviderSimulator, cfg.Cloud.Provider)
	assert.Equal(t, "t-1", cfg.Cloud.Azure.TenantID)
	assert.Equal(t, 45*time.Second, cfg.Resize.RedirectToHAWait)
	assert.Equal(t, 30*time.Second, cfg.Resize.RedirectToActiveWait)
	require.NoError(t, cfg.Validate())

	opts := cfg.ResizeOptions()
	assert.True(t, opts.RollbackResize)
	assert.Equal(t, 45*time.Second, opts.RedirectToHAWait)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Cloud.Provider = ProviderSimulator
	assert.ErrorContains(t, cfg.Validate(), "--simulator-url")

	cfg.Cloud.Provider = "gcp"
	assert.ErrorContains(t, cfg.Validate(), "unknown cloud provider")

	cfg = Default()
	cfg.Snapshot.Store = "s3"
	assert.ErrorContains(t, cfg.Validate(), "unknown snapshot store")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AZURE_TENANT_ID", "tenant")
	t.Setenv("AZURE_CLIENT_ID", "client")
	t.Setenv("AZURE_SUBSCRIPTION_ID", "")
	t.Setenv("AZURE_CLIENT_SECRET", "shh")
	cfg := Default()
	cfg.Cloud.Azure.SubscriptionID = "from-yaml"
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, cloud.Credentials{TenantID: "tenant", ClientID: "client", SubscriptionID: "from-yaml", ClientSecret: "shh"}, cfg.Cloud.Azure)
}

type scripted struct {
	inputs    []string
	passwords []string
	asked     []string
}

func (s *scripted) Input(msg string) (string, error) {
	s.asked = append(s.asked, msg)
	v := s.inputs[0]
	s.inputs = s.inputs[1:]
	return v, nil
}

func (s *scripted) Password(msg string) (string, error) {
	s.asked = append(s.asked, msg)
	v := s.passwords[0]
	s.passwords = s.passwords[1:]
	return v, nil
}

func TestFillCredentialsPromptsOnlyMissing(t *testing.T) {
	creds := cloud.Credentials{TenantID: "tenant", ClientID: "client"}
	p := &scripted{inputs: []string{"sub"}, passwords: []string{"secret"}}
	require.NoError(t, FillCredentials(&creds, p))
	assert.Equal(t, []string{"Enter Azure Subscription ID", "Enter Azure Client Secret"}, p.asked)
	assert.Equal(t, "secret", creds.ClientSecret)
	assert.Empty(t, creds.Missing())
}

func TestFillCredentialsRejectsEmptyAnswers(t *testing.T) {
	creds := cloud.Credentials{TenantID: "tenant", ClientID: "client", SubscriptionID: "sub"}
	p := &scripted{passwords: []string{""}}
	assert.ErrorContains(t, FillCredentials(&creds, p), "client secret")
}
