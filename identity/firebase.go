package identity

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// firebaseClient is the subset of *auth.Client used here.
type firebaseClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	DeleteUser(ctx context.Context, uid string) error
}

// FirebaseVerifier checks Firebase ID tokens.
type FirebaseVerifier struct {
	client firebaseClient
}

var (
	_ Verifier = (*FirebaseVerifier)(nil)
	_ Deleter  = (*FirebaseVerifier)(nil)
)

// NewFirebaseVerifier initializes a Firebase app for projectID. When
// credentialsFile is empty, Application Default Credentials are used.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	tok, err := v.client.VerifyIDToken(ctx, credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return &Identity{
		Subject:     tok.UID,
		Email:       claimString(tok.Claims, "email"),
		DisplayName: claimString(tok.Claims, "name"),
		AvatarURL:   claimString(tok.Claims, "picture"),
		Provider:    ProviderFromSignIn(tok.Firebase.SignInProvider),
	}, nil
}

func (v *FirebaseVerifier) DeleteSubject(ctx context.Context, subject string) error {
	if err := v.client.DeleteUser(ctx, subject); err != nil {
		return fmt.Errorf("deleting firebase user: %w", err)
	}
	return nil
}

func claimString(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}
