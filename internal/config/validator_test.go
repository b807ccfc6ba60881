package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTelegramToken(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid token", "123456789:ABCdefGHIjklMNOpqrsTUVwxyz", false},
		{"empty token", "", true},
		{"missing colon", "123456789ABCdef", true},
		{"non numeric id", "abc:ABCdef", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateTelegramToken(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateProvider(t *testing.T) {
	v := NewValidator()

	valid := DefaultConfig().Provider
	valid.APIKeys = []string{"key-a"}
	assert.NoError(t, v.ValidateProvider(valid))

	noKeys := valid
	noKeys.APIKeys = nil
	assert.Error(t, v.ValidateProvider(noKeys))

	emptyKey := valid
	emptyKey.APIKeys = []string{""}
	assert.Error(t, v.ValidateProvider(emptyKey))

	noModel := valid
	noModel.LiteModel = ""
	assert.Error(t, v.ValidateProvider(noModel))

	badRetry := valid
	badRetry.Retry.MaxAttempts = 0
	assert.Error(t, v.ValidateProvider(badRetry))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	cfg := DefaultConfig()
	cfg.Telegram.BotToken = "123456:abc"
	cfg.Provider.APIKeys = []string{"key-a"}
	assert.NoError(t, v.ValidateConfig(cfg))

	cfg.Dialog.LiteMaxSteps = 0
	assert.Error(t, v.ValidateConfig(cfg))
}
