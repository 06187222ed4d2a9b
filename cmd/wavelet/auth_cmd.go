package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	wavelet "github.com/wavelet-im/wavelet-go"
)

var (
	profileName   string
	profileAvatar string
)

// ============================================================================
// init
// ============================================================================

var initCmd = &cobra.Command{
	Use:   "init <base-url> <anon-key>",
	Short: "Store backend connection settings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Default.BaseURL = args[0]
		cfg.Default.AnonKey = args[1]
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Println("Backend configured.")
		return nil
	},
}

// ============================================================================
// register
// ============================================================================

var registerCmd = &cobra.Command{
	Use:   "register <email> <password> <nickname>",
	Short: "Create an account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.Auth().SignUp(ctx, args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		fmt.Println("Account created. Run 'wavelet login' to sign in.")
		return nil
	},
}

// ============================================================================
// login / logout
// ============================================================================

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Sign in and persist the session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		sess, err := client.Auth().SignIn(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("sign-in failed: %w", err)
		}

		rememberSession(cfg, sess)
		fmt.Printf("Signed in as %s (%s)\n", sess.User.DisplayName, sess.User.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, _ := getSignedInClient(ctx)
		if err := client.Auth().SignOut(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: server sign-out failed: %v\n", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Auth = ConfigAuth{}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}

// ============================================================================
// profile
// ============================================================================

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, sess := getSignedInClient(ctx)
		tracker := wavelet.NewTracker(client)

		changed := false
		if profileName != "" {
			if err := tracker.UpdateDisplayName(ctx, profileName); err != nil {
				return fmt.Errorf("rename failed: %w", err)
			}
			changed = true
		}
		if profileAvatar != "" {
			data, err := os.ReadFile(profileAvatar)
			if err != nil {
				return fmt.Errorf("cannot read avatar file: %w", err)
			}
			url, err := tracker.UpdateAvatar(ctx, data, http.DetectContentType(data))
			if err != nil {
				return fmt.Errorf("avatar upload failed: %w", err)
			}
			fmt.Printf("Avatar: %s\n", url)
			changed = true
		}

		if changed {
			if updated := client.Auth().Session(); updated != nil {
				sess = updated
				cfg, err := loadConfig()
				if err == nil {
					rememberSession(cfg, sess)
				}
			}
			fmt.Println("Profile updated. New messages will carry the new identity.")
		}

		fmt.Printf("Nickname: %s\n", sess.User.DisplayName)
		fmt.Printf("Email:    %s\n", sess.User.Email)
		if sess.User.AvatarURL != "" {
			fmt.Printf("Avatar:   %s\n", sess.User.AvatarURL)
		}
		return nil
	},
}

func init() {
	profileCmd.Flags().StringVar(&profileName, "name", "", "new display name")
	profileCmd.Flags().StringVar(&profileAvatar, "avatar", "", "path to a new avatar image")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(profileCmd)
}
