package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ENV")
	os.Unsetenv("COUNTRY_CODE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}

	if cfg.CountryCode != "+1" {
		t.Errorf("expected country code '+1', got %s", cfg.CountryCode)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("PORT", "9000")
	os.Setenv("ENV", "production")
	os.Setenv("COUNTRY_CODE", "+49")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("ENV")
		os.Unsetenv("COUNTRY_CODE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}

	if cfg.Env != "production" {
		t.Errorf("expected env 'production', got %s", cfg.Env)
	}

	if cfg.CountryCode != "+49" {
		t.Errorf("expected country code '+49', got %s", cfg.CountryCode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid",
			cfg:     Config{ServiceSecret: "s", JWTSecret: "j", CountryCode: "+1"},
			wantErr: false,
		},
		{
			name:    "missing service secret",
			cfg:     Config{JWTSecret: "j", CountryCode: "+1"},
			wantErr: true,
		},
		{
			name:    "missing jwt secret",
			cfg:     Config{ServiceSecret: "s", CountryCode: "+1"},
			wantErr: true,
		},
		{
			name:    "country code without plus",
			cfg:     Config{ServiceSecret: "s", JWTSecret: "j", CountryCode: "49"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
