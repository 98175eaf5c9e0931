package config

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	"gw-resize/pkg/cloud"
)

// Prompter asks the operator for a missing value.
type Prompter interface {
	Input(message string) (string, error)
	Password(message string) (string, error)
}

// SurveyPrompter prompts on the terminal.
type SurveyPrompter struct{}

func (SurveyPrompter) Input(message string) (string, error) {
	var out string
	err := survey.AskOne(&survey.Input{Message: message}, &out, survey.WithValidator(survey.Required))
	return out, err
}

func (SurveyPrompter) Password(message string) (string, error) {
	var out string
	err := survey.AskOne(&survey.Password{Message: message}, &out, survey.WithValidator(survey.Required))
	return out, err
}

// FillCredentials prompts for every unset credential field. The secret prompt hides input.
func FillCredentials(creds *cloud.Credentials, p Prompter) error {
	fields := []struct {
		dst    *string
		msg    string
		secret bool
	}{
		{&creds.TenantID, "Enter Azure Tenant ID", false},
		{&creds.ClientID, "Enter Azure Client ID", false},
		{&creds.SubscriptionID, "Enter Azure Subscription ID", false},
		{&creds.ClientSecret, "Enter Azure Client Secret", true},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		ask := p.Input
		if f.secret {
			ask = p.Password
		}
		v, err := ask(f.msg)
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		*f.dst = v
	}
	if missing := creds.Missing(); len(missing) > 0 {
		return fmt.Errorf("missing cloud credentials: %v", missing)
	}
	return nil
}
