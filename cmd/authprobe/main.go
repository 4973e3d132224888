// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command authprobe exercises a running identity server the way a
// first-party client would.
//
// It logs in, installs the session into a token distribution service and
// fires concurrent requests through the bearer interceptor. Requests that
// hit an expiring token share a single refresh. The session is logged out
// on exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/yomira-iam/internal/client"
	"github.com/taibuivan/yomira-iam/internal/platform/constants"
)

type options struct {
	baseURL     string
	username    string
	password    string
	path        string
	concurrency int
	rounds      int
	interval    time.Duration
	rememberMe  bool
	verbose     bool
}

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options

	flagSet := pflag.NewFlagSet("authprobe", pflag.ContinueOnError)
	flagSet.StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "identity server base URL")
	flagSet.StringVarP(&opts.username, "username", "u", "", "account username")
	flagSet.StringVarP(&opts.password, "password", "p", "", "account password (default: $AUTHPROBE_PASSWORD)")
	flagSet.StringVar(&opts.path, "path", constants.AuthRoutePrefix+"/me", "protected path to request")
	flagSet.IntVarP(&opts.concurrency, "concurrency", "c", 8, "concurrent requests per round")
	flagSet.IntVar(&opts.rounds, "rounds", 1, "number of request rounds")
	flagSet.DurationVar(&opts.interval, "interval", 0, "pause between rounds")
	flagSet.BoolVar(&opts.rememberMe, "remember-me", false, "request a long-lived session")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if opts.password == "" {
		opts.password = os.Getenv("AUTHPROBE_PASSWORD")
	}
	if opts.username == "" || opts.password == "" {
		return errors.New("--username and --password are required")
	}
	if opts.concurrency < 1 || opts.rounds < 1 {
		return errors.New("--concurrency and --rounds must be at least 1")
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return probe(ctx, opts, logger)
}

func probe(ctx context.Context, opts options, logger *slog.Logger) error {
	config := client.Config{BaseURL: opts.baseURL}
	authAPI := client.NewAuthAPI(config, nil, logger)
	tokens := client.NewTokenDistributionService(authAPI, config, logger)

	session, err := authAPI.Login(ctx, client.LoginRequest{
		Username:   opts.username,
		Password:   opts.password,
		RememberMe: opts.rememberMe,
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	tokens.SetSession(*session)
	logger.Info("logged_in", slog.String("username", session.Username), slog.Time("expires_at", session.ExpiresAt))

	defer func() {
		current, ok := tokens.Session()
		if !ok {
			return
		}
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := authAPI.Logout(logoutCtx, current.RefreshToken); err != nil {
			logger.Warn("logout_failed", slog.Any("error", err))
			return
		}
		logger.Info("logged_out")
	}()

	httpClient := &http.Client{
		Transport: client.NewInterceptor(nil, tokens),
		Timeout:   constants.GlobalRequestTimeout,
	}

	var succeeded, failed atomic.Int64
	for round := 1; round <= opts.rounds; round++ {
		group, groupCtx := errgroup.WithContext(ctx)
		for range opts.concurrency {
			group.Go(func() error {
				status, err := fetch(groupCtx, httpClient, opts.baseURL+opts.path)
				if err != nil {
					failed.Add(1)
					if errors.Is(err, client.ErrSessionInvalid) {
						return err
					}
					logger.Warn("request_failed", slog.Any("error", err))
					return nil
				}
				if status >= 400 {
					failed.Add(1)
				} else {
					succeeded.Add(1)
				}
				logger.Debug("request_done", slog.Int("round", round), slog.Int("status", status))
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}

		logger.Info("round_complete",
			slog.Int("round", round),
			slog.String("state", tokens.State().String()),
		)

		if round < opts.rounds && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}
	}

	logger.Info("probe_complete", slog.Int64("succeeded", succeeded.Load()), slog.Int64("failed", failed.Load()))
	if failed.Load() > 0 {
		return fmt.Errorf("%d of %d requests failed", failed.Load(), succeeded.Load()+failed.Load())
	}
	return nil
}

func fetch(ctx context.Context, httpClient *http.Client, url string) (int, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	response, err := httpClient.Do(request)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	return response.StatusCode, nil
}
