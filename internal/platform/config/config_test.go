package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "ns-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "ns-dev" || cfg.PubSub.ProjectID != "ns-dev" {
		t.Errorf("expected projects to default to firebase project, got %s / %s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Payments.Mode != "auto" || cfg.Payments.AuthorizationPolicy != "marked_up_subtotal" {
		t.Errorf("unexpected payment defaults %+v", cfg.Payments)
	}
	if cfg.Payments.ShippingReserve != 3000 || !cfg.Payments.VerifyHoldOnCreate {
		t.Errorf("unexpected hold defaults %+v", cfg.Payments)
	}
	if cfg.Reporting.TimeZone != "Asia/Tokyo" {
		t.Errorf("unexpected reporting zone %s", cfg.Reporting.TimeZone)
	}
	if cfg.Cache.RedisAddr != "" {
		t.Errorf("expected cache disabled by default, got %s", cfg.Cache.RedisAddr)
	}
	if cfg.Storage.MaxUploadBytes != defaultMaxUploadBytes {
		t.Errorf("unexpected default upload limit %d", cfg.Storage.MaxUploadBytes)
	}
	if cfg.Security.Environment != "local" || cfg.Security.IsProduction() {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 {
		t.Errorf("expected default issuers, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                     "9090",
		"API_SERVER_IDLE_TIMEOUT":             "2m",
		"API_FIREBASE_PROJECT_ID":             "ns-prod",
		"API_FIRESTORE_PROJECT_ID":            "ns-fire",
		"API_PAYMENTS_STRIPE_SECRET_KEY":      "secret://stripe/api",
		"API_PAYMENTS_STRIPE_PUBLISHABLE_KEY": "pk_live_123",
		"API_PAYMENTS_MODE":                   "LIVE",
		"API_PAYMENTS_AUTHORIZATION_POLICY":   "original_subtotal",
		"API_PAYMENTS_SHIPPING_RESERVE":       "4500",
		"API_PAYMENTS_VERIFY_HOLD_ON_CREATE":  "false",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":       "orders",
		"API_STORAGE_PRODUCT_IMAGES_BUCKET":   "ns-images",
		"API_STORAGE_SIGNED_URL_KEY":          "secret://storage/key",
		"API_STORAGE_MAX_UPLOAD_BYTES":        "2097152",
		"API_CACHE_REDIS_ADDR":                "10.0.0.3:6379",
		"API_CACHE_REDIS_PASSWORD":            "secret://redis/password",
		"API_CACHE_TTL":                       "90s",
		"API_REPORTING_TIME_ZONE":             "UTC",
		"API_ADMIN_BOOTSTRAP_SUPER_ADMINS":    "founder, cofounder",
		"API_SECURITY_ENVIRONMENT":            "prod",
		"API_SECURITY_OIDC_AUDIENCES":         "prod=https://jobs.example.com,stg=https://jobs-stg.example.com",
		"API_IDEMPOTENCY_HEADER":              "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":                 "48h",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "sk_live_123",
		"secret://storage/key":    "pem-key",
		"secret://redis/password": "redis-pass",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Payments.StripeSecretKey != "sk_live_123" || cfg.Payments.Mode != "live" {
		t.Errorf("unexpected payments config %+v", cfg.Payments)
	}
	if cfg.Payments.AuthorizationPolicy != "original_subtotal" || cfg.Payments.ShippingReserve != 4500 || cfg.Payments.VerifyHoldOnCreate {
		t.Errorf("unexpected hold config %+v", cfg.Payments)
	}
	if cfg.PubSub.ProjectID != "ns-fire" || cfg.PubSub.OrderEventsTopic != "orders" {
		t.Errorf("unexpected pubsub config %+v", cfg.PubSub)
	}
	if cfg.Storage.SignedURLKey != "pem-key" || cfg.Cache.RedisPassword != "redis-pass" {
		t.Errorf("expected resolved storage and cache secrets")
	}
	if cfg.Storage.MaxUploadBytes != 2<<20 {
		t.Errorf("unexpected upload limit %d", cfg.Storage.MaxUploadBytes)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("unexpected cache ttl %s", cfg.Cache.TTL)
	}
	if !slices.Equal(cfg.Admin.BootstrapSuperAdmins, []string{"founder", "cofounder"}) {
		t.Errorf("unexpected bootstrap admins %v", cfg.Admin.BootstrapSuperAdmins)
	}
	if !cfg.Security.IsProduction() {
		t.Errorf("expected production environment")
	}
	if cfg.Security.OIDC.Audience != "https://jobs.example.com" {
		t.Errorf("expected audience picked for environment, got %s", cfg.Security.OIDC.Audience)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadRejectsIllegalPaymentCombinations(t *testing.T) {
	cases := map[string]struct {
		env   map[string]string
		field string
	}{
		"demo with key": {
			env:   map[string]string{"API_PAYMENTS_MODE": "demo", "API_PAYMENTS_STRIPE_SECRET_KEY": "sk_test_1"},
			field: "Payments.Mode",
		},
		"live without key": {
			env:   map[string]string{"API_PAYMENTS_MODE": "live"},
			field: "Payments.StripeSecretKey",
		},
		"auto without key in production": {
			env:   map[string]string{"API_SECURITY_ENVIRONMENT": "production"},
			field: "Payments.StripeSecretKey",
		},
		"unknown mode": {
			env:   map[string]string{"API_PAYMENTS_MODE": "sandbox"},
			field: "Payments.Mode",
		},
		"unknown policy": {
			env:   map[string]string{"API_PAYMENTS_AUTHORIZATION_POLICY": "total"},
			field: "Payments.AuthorizationPolicy",
		},
		"negative reserve": {
			env:   map[string]string{"API_PAYMENTS_SHIPPING_RESERVE": "-1"},
			field: "Payments.ShippingReserve",
		},
		"bad zone": {
			env:   map[string]string{"API_REPORTING_TIME_ZONE": "Mars/Olympus"},
			field: "Reporting.TimeZone",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			env := map[string]string{"API_FIREBASE_PROJECT_ID": "ns-dev"}
			for k, v := range tc.env {
				env[k] = v
			}
			_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !slices.Contains(validation.Fields(), tc.field) {
				t.Fatalf("expected %s in %v", tc.field, validation.Fields())
			}
		})
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=\"ns-dot\"\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "ns-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":        "ns-dev",
		"API_PAYMENTS_STRIPE_SECRET_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://stripe/api=5",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "ns-dev"}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Storage.SignedURLKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	expectedRedacted := redactSecretName("Storage.SignedURLKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "ns-dev"}

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("expected panic when required secrets missing")
		}
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Storage.SignedURLKey" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Storage.SignedURLKey"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":    "ns-dev",
		"API_STORAGE_SIGNED_URL_KEY": "sm://storage/key",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://storage/key" {
			return "legacy-key", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.SignedURLKey != "legacy-key" {
		t.Fatalf("expected legacy secret, got %s", cfg.Storage.SignedURLKey)
	}
}
