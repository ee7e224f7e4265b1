package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const socialLoginTimeout = 5 * time.Minute

var stdin = bufio.NewReader(os.Stdin)

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), true, func(a *app) error {
		v := newStatusView(a.engine)
		return render(cmd.OutOrStdout(), v, func(w io.Writer) { printStatus(w, v) })
	})
}

func runLogin(cmd *cobra.Command, args []string) error {
	if socialFlag {
		return withApp(cmd.Context(), true, func(a *app) error {
			return socialLogin(cmd.Context(), a, cmd.OutOrStdout())
		})
	}
	email, password, err := promptCredentials(cmd.OutOrStdout(), args, "Email", "Password")
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), true, func(a *app) error {
		if err := a.engine.Login(cmd.Context(), email, password); err != nil {
			return err
		}
		return printSignedIn(cmd.OutOrStdout(), a)
	})
}

func runRegister(cmd *cobra.Command, args []string) error {
	email, password, err := promptCredentials(cmd.OutOrStdout(), args, "Email", "Password")
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), true, func(a *app) error {
		if err := a.engine.Register(cmd.Context(), email, password); err != nil {
			return err
		}
		return printSignedIn(cmd.OutOrStdout(), a)
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), false, func(a *app) error {
		if err := a.engine.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
		return nil
	})
}

func printSignedIn(w io.Writer, a *app) error {
	v := newStatusView(a.engine)
	return render(w, v, func(w io.Writer) {
		fmt.Fprintf(w, "Signed in as %s.\n", v.Email)
		if !v.Linked {
			fmt.Fprintln(w, "Link your watch account with: coach link")
		}
	})
}

// socialLogin opens the provider URL and waits for the redirect on the local callback address
func socialLogin(ctx context.Context, a *app, w io.Writer) error {
	authURL, state, err := a.engine.SocialAuthURL()
	if err != nil {
		return err
	}
	redirect, err := url.Parse(a.cfg.GetOIDCRedirectURL())
	if err != nil {
		return fmt.Errorf("[socialLogin] invalid redirect URL: %w", err)
	}

	type callback struct {
		state, code, errMsg string
	}
	results := make(chan callback, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+redirect.Path, func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		select {
		case results <- callback{state: q.Get("state"), code: q.Get("code"), errMsg: q.Get("error")}:
		default:
		}
		fmt.Fprintln(rw, "You can close this window and return to the terminal.")
	})

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("[socialLogin] listen on %s: %w", redirect.Host, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Err(err).Msg("Callback server stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(w, "Open this URL in your browser to sign in:\n\n  %s\n\n", authURL)

	ctx, cancel := context.WithTimeout(ctx, socialLoginTimeout)
	defer cancel()
	select {
	case cb := <-results:
		if cb.errMsg != "" {
			return fmt.Errorf("[socialLogin] provider returned %s", cb.errMsg)
		}
		if cb.state != state {
			a.logger.Warn().Msg("Callback state does not match this sign-in attempt")
		}
		if err := a.engine.LoginWithSocial(ctx, cb.state, cb.code); err != nil {
			return err
		}
		return printSignedIn(w, a)
	case <-ctx.Done():
		return fmt.Errorf("[socialLogin] %w", ctx.Err())
	}
}

// promptCredentials takes the identity from args or stdin and the secret from --password or stdin
func promptCredentials(w io.Writer, args []string, idLabel, secretLabel string) (string, string, error) {
	var id string
	if len(args) > 0 {
		id = args[0]
	} else {
		var err error
		if id, err = prompt(w, idLabel); err != nil {
			return "", "", err
		}
	}
	secret := passwordFlag
	if secret == "" {
		var err error
		if secret, err = prompt(w, secretLabel); err != nil {
			return "", "", err
		}
	}
	return id, secret, nil
}

func prompt(w io.Writer, label string) (string, error) {
	fmt.Fprintf(w, "%s: ", label)
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimSpace(line), nil
}
