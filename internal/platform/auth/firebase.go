package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/nihonselect/api/internal/platform/config"
)

const emulatorHostEnv = "FIREBASE_AUTH_EMULATOR_HOST"

// ErrVerifierUnavailable is returned when the verifier was never initialised.
var ErrVerifierUnavailable = errors.New("auth: firebase verifier not initialised")

// FirebaseVerifier checks Firebase ID tokens for shoppers and admins.
type FirebaseVerifier struct {
	verify  func(ctx context.Context, token string) (*firebaseauth.Token, error)
	timeout time.Duration
}

type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout bounds each verification, including any key or revocation fetch.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID. With an emulator host set the
// SDK accepts unsigned emulator tokens.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	if cfg.AuthEmulatorHost != "" {
		if err := os.Setenv(emulatorHostEnv, cfg.AuthEmulatorHost); err != nil {
			return nil, fmt.Errorf("auth: point sdk at emulator: %w", err)
		}
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: firebase auth client: %w", err)
	}

	verify := client.VerifyIDToken
	if cfg.CheckRevoked {
		verify = client.VerifyIDTokenAndCheckRevoked
	}
	return newFirebaseVerifier(verify, opts...), nil
}

func newFirebaseVerifier(verify func(context.Context, string) (*firebaseauth.Token, error), opts ...FirebaseOption) *FirebaseVerifier {
	v := &FirebaseVerifier{verify: verify, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// VerifyIDToken validates idToken. Revoked or disabled accounts surface as errors when revocation
// checks are on.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.verify == nil {
		return nil, ErrVerifierUnavailable
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	return v.verify(ctx, idToken)
}
