package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/escritoresnogueira/backend/identity"
	"github.com/escritoresnogueira/backend/internal/config"
)

var devTokenOpts struct {
	subject string
	email   string
	name    string
	picture string
	ttl     time.Duration
}

var devTokenCmd = &cobra.Command{
	Use:   "dev-token",
	Short: "Mint a development ID token for IDENTITY_PROVIDER=jwt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(v)
		if err != nil {
			return err
		}
		if cfg.Env == config.EnvProduction {
			return errors.New("dev-token is disabled when APP_ENV=production")
		}
		if devTokenOpts.subject == "" {
			return errors.New("--subject is required")
		}
		jv, err := identity.NewJWTVerifier([]byte(cfg.DevJWTSecret), cfg.DevJWTIssuer)
		if err != nil {
			return err
		}
		tok, err := jv.Issue(identity.Identity{
			Subject:     devTokenOpts.subject,
			Email:       devTokenOpts.email,
			DisplayName: devTokenOpts.name,
			AvatarURL:   devTokenOpts.picture,
		}, devTokenOpts.ttl)
		if err != nil {
			return err
		}
		printf(cmd, "%s\n", tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devTokenCmd)
	f := devTokenCmd.Flags()
	f.StringVar(&devTokenOpts.subject, "subject", "", "Identity subject")
	f.StringVar(&devTokenOpts.email, "email", "", "E-mail claim")
	f.StringVar(&devTokenOpts.name, "name", "", "Display name claim")
	f.StringVar(&devTokenOpts.picture, "picture", "", "Avatar URL claim")
	f.DurationVar(&devTokenOpts.ttl, "ttl", time.Hour, "Token lifetime")
}
