// Command adcortex-chat replays a conversation from stdin through the ADCortex
// client and prints a context string whenever a new ad arrives.
//
// Each input line is "user: text" or "ai: text". Lines without a role prefix
// are treated as user messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sanity-io/litter"
	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/internal/config"
	"github.com/patrickwarner/adcortex-go/internal/observability"
	"github.com/patrickwarner/adcortex-go/pkg/client"
	"github.com/patrickwarner/adcortex-go/pkg/models"
)

const drainTimeout = 10 * time.Second

type options struct {
	sync bool
	dump bool
}

func main() {
	var (
		opts      options
		sessionID = flag.String("session", uuid.NewString(), "session ID")
		character = flag.String("character", "Assistant", "assistant persona name")
		userID    = flag.String("user", "cli-user", "user ID")
		age       = flag.Int("age", 30, "user age")
		gender    = flag.String("gender", "other", "user gender: male, female or other")
		location  = flag.String("location", "US", "ISO 3166-1 alpha-2 country code")
		language  = flag.String("language", "en", "ISO 639-1 language code")
		interests = flag.String("interests", "", "comma-separated interest categories")
	)
	flag.BoolVar(&opts.sync, "sync", false, "fetch synchronously after every message")
	flag.BoolVar(&opts.dump, "dump", false, "print every new ad in full")
	flag.Parse()

	cfg := config.Load()
	logger, err := observability.InitStderrLogger("adcortex-chat")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	parsed, err := models.ParseInterests(splitList(*interests))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	session := models.SessionInfo{
		SessionID:     *sessionID,
		CharacterName: *character,
		UserInfo: models.UserInfo{
			UserID:    *userID,
			Age:       *age,
			Gender:    models.Gender(*gender),
			Location:  *location,
			Language:  *language,
			Interests: parsed,
		},
		Platform: models.Platform{Name: "adcortex-chat", Version: observability.Version},
	}

	clientOpts := []client.Option{
		client.WithBaseURL(cfg.BaseURL),
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(logger),
	}
	if cfg.ContextTemplate != "" {
		clientOpts = append(clientOpts, client.WithContextTemplate(cfg.ContextTemplate))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, session, opts, clientOpts...); err != nil {
		logger.Error("chat failed", zap.Error(err))
		os.Exit(1)
	}
}

// parseLine splits "role: content". A line without a known role prefix is a
// user message. Blank lines are skipped.
func parseLine(line string) (models.Role, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	if prefix, rest, found := strings.Cut(line, ":"); found {
		if role, err := models.ParseRole(prefix); err == nil {
			return role, strings.TrimSpace(rest), true
		}
	}
	return models.RoleUser, line, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type printer struct {
	out  io.Writer
	dump bool
}

func (p printer) ad(ad *models.Ad, text string) {
	fmt.Fprintf(p.out, "[ad] %s\n", text)
	if p.dump {
		fmt.Fprintln(p.out, litter.Sdump(ad))
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer, session models.SessionInfo, opts options, clientOpts ...client.Option) error {
	p := printer{out: out, dump: opts.dump}
	if opts.sync {
		return runSync(ctx, in, p, session, clientOpts)
	}
	return runAsync(ctx, in, p, session, clientOpts)
}

func runSync(ctx context.Context, in io.Reader, p printer, session models.SessionInfo, clientOpts []client.Option) error {
	c, err := client.NewChatClient(session, clientOpts...)
	if err != nil {
		return err
	}
	defer c.Close()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		role, content, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		ad, err := c.Send(ctx, role, content)
		if err != nil {
			fmt.Fprintf(p.out, "[error] %v\n", err)
			continue
		}
		if ad == nil {
			continue
		}
		text, err := c.CreateContext()
		if err != nil {
			return err
		}
		p.ad(ad, text)
	}
	return scanner.Err()
}

func runAsync(ctx context.Context, in io.Reader, p printer, session models.SessionInfo, clientOpts []client.Option) error {
	c, err := client.NewAsyncChatClient(session, clientOpts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		_ = c.Close(closeCtx)
	}()

	show := func() error {
		ad, isNew := c.LatestAd()
		if !isNew {
			return nil
		}
		text, err := c.CreateContext()
		if err != nil {
			return err
		}
		p.ad(ad, text)
		return nil
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		role, content, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if err := c.Add(role, content); err != nil {
			fmt.Fprintf(p.out, "[dropped] %v\n", err)
		}
		if err := show(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := c.WaitForQueue(waitCtx); err != nil {
		return err
	}
	if !c.IsHealthy() {
		fmt.Fprintln(p.out, "[warn] ADCortex requests are failing")
	}
	return show()
}
