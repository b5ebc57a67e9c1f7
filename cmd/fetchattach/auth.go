package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/altafino/fetch-attach/internal/oauth2"
	"github.com/altafino/fetch-attach/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	goauth2 "golang.org/x/oauth2"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "OAuth2 token management",
		Long:  `Manage the OAuth2 tokens used by gmail profiles and IMAP profiles with xoauth2 login`,
	}

	authCmd.AddCommand(
		&cobra.Command{
			Use:   "login [config-id]",
			Short: "Authorize a profile in the browser and store its token",
			Args:  cobra.MaximumNArgs(1),
			RunE:  loginCmd,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the stored tokens of every profile",
			RunE:  statusCmd,
		},
		&cobra.Command{
			Use:   "logout [config-id]",
			Short: "Delete the stored token of a profile",
			Args:  cobra.ExactArgs(1),
			RunE:  logoutCmd,
		},
	)
	return authCmd
}

// oauthFiles returns the client secrets and token file of a profile
func oauthFiles(cfg *types.Config) (credentials, token string, err error) {
	switch {
	case cfg.Mailbox.Provider == "gmail":
		return cfg.Mailbox.Gmail.CredentialsFile, cfg.Mailbox.Gmail.TokenFile, nil
	case cfg.Mailbox.Provider == "imap" && cfg.Mailbox.IMAP.Auth == "xoauth2":
		return cfg.Mailbox.IMAP.CredentialsFile, cfg.Mailbox.IMAP.TokenFile, nil
	default:
		return "", "", fmt.Errorf("profile %s does not use OAuth2", cfg.Meta.ID)
	}
}

func profileByArg(args []string) (*types.Config, error) {
	if len(args) == 1 {
		viper.Set("config_id", args[0])
	}
	_, profiles, err := loadProfiles(bootstrapLogger())
	if err != nil {
		return nil, err
	}
	if len(profiles) != 1 {
		return nil, errors.New("more than one profile enabled, pass a config id")
	}
	return profiles[0], nil
}

func loginCmd(cmd *cobra.Command, args []string) error {
	cfg, err := profileByArg(args)
	if err != nil {
		return err
	}
	credentials, tokenFile, err := oauthFiles(cfg)
	if err != nil {
		return err
	}
	scopes, err := oauth2.ScopesFor(cfg.Mailbox.Provider)
	if err != nil {
		return err
	}
	oauthCfg, err := oauth2.GetGoogleConfig(credentials, oauth2.RedirectURL(), scopes...)
	if err != nil {
		return err
	}

	logger := bootstrapLogger()
	tm, err := oauth2.NewTokenManager(oauthCfg, tokenFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	state, err := randomState()
	if err != nil {
		return err
	}
	authURL := oauthCfg.AuthCodeURL(state, goauth2.AccessTypeOffline, goauth2.ApprovalForce)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Please open the following URL in your browser:\n\n%s\n\n", authURL)
	fmt.Fprintln(out, "Waiting for authentication...")

	ctx := context.Background()
	code, err := oauth2.StartLocalServer(ctx, state, logger)
	if err != nil {
		return fmt.Errorf("failed to get authorization code: %w", err)
	}

	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange authorization code for token: %w", err)
	}
	if err := tm.SetToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintf(out, "Token saved to %s for profile %s\n", tokenFile, cfg.Meta.ID)
	fmt.Fprintf(out, "Token expires at: %s\n", token.Expiry.Format("2006-01-02 15:04:05"))
	return nil
}

func statusCmd(cmd *cobra.Command, args []string) error {
	store, _, err := loadProfiles(bootstrapLogger())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	found := false
	for _, cfg := range store.List() {
		credentials, tokenFile, err := oauthFiles(cfg)
		if err != nil {
			continue
		}
		found = true

		oauthCfg, err := oauth2.GetGoogleConfig(credentials, oauth2.RedirectURL())
		if err != nil {
			fmt.Fprintf(out, "Profile: %s (%v)\n", cfg.Meta.ID, err)
			continue
		}
		tm, err := oauth2.NewTokenManager(oauthCfg, tokenFile, bootstrapLogger())
		if err != nil {
			fmt.Fprintf(out, "Profile: %s (%v)\n", cfg.Meta.ID, err)
			continue
		}
		token, err := tm.GetToken(context.Background())
		if errors.Is(err, oauth2.ErrNoToken) {
			fmt.Fprintf(out, "Profile: %s\n  No token, run: fetchattach auth login %s\n", cfg.Meta.ID, cfg.Meta.ID)
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "Profile: %s (error reading token: %v)\n", cfg.Meta.ID, err)
			continue
		}

		fmt.Fprintf(out, "Profile: %s\n", cfg.Meta.ID)
		fmt.Fprintf(out, "  Token file: %s\n", tokenFile)
		fmt.Fprintf(out, "  Expires: %s\n", token.Expiry.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(out, "  Valid: %v\n", token.Valid())
	}

	if !found {
		fmt.Fprintln(out, "No profiles use OAuth2")
	}
	return nil
}

func logoutCmd(cmd *cobra.Command, args []string) error {
	cfg, err := profileByArg(args)
	if err != nil {
		return err
	}
	credentials, tokenFile, err := oauthFiles(cfg)
	if err != nil {
		return err
	}
	oauthCfg, err := oauth2.GetGoogleConfig(credentials, oauth2.RedirectURL())
	if err != nil {
		return err
	}
	tm, err := oauth2.NewTokenManager(oauthCfg, tokenFile, bootstrapLogger())
	if err != nil {
		return err
	}

	existed, err := tm.Clear()
	if err != nil {
		return err
	}
	if !existed {
		fmt.Fprintf(cmd.OutOrStdout(), "No token stored for profile %s\n", cfg.Meta.ID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token deleted for profile %s\n", cfg.Meta.ID)
	return nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
