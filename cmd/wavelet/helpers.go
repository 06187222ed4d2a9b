package main

import (
	"context"
	"fmt"
	"os"

	wavelet "github.com/wavelet-im/wavelet-go"
)

// getClient creates a client from the stored connection settings.
func getClient() *wavelet.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.BaseURL == "" || cfg.Default.AnonKey == "" {
		fmt.Fprintln(os.Stderr, "Backend not configured. Run 'wavelet init <base-url> <anon-key>' first.")
		os.Exit(1)
	}
	return wavelet.NewClient(cfg.Default.BaseURL, cfg.Default.AnonKey)
}

// getSignedInClient restores the persisted session onto a fresh client.
// The refresh rotates the token, so the new one is written back.
func getSignedInClient(ctx context.Context) (*wavelet.Client, *wavelet.Session) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.RefreshToken == "" {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'wavelet login' first.")
		os.Exit(1)
	}

	client := getClient()
	sess, err := client.Auth().Restore(ctx, cfg.Auth.RefreshToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Session expired: %v\nRun 'wavelet login' again.\n", err)
		os.Exit(1)
	}

	rememberSession(cfg, sess)
	return client, sess
}

// rememberSession persists the rotated session credentials.
func rememberSession(cfg *Config, sess *wavelet.Session) {
	cfg.Auth.RefreshToken = sess.RefreshToken
	cfg.Auth.UserID = sess.User.ID
	cfg.Auth.Email = sess.User.Email
	cfg.Auth.DisplayName = sess.User.DisplayName
	if err := saveConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not persist session: %v\n", err)
	}
}
