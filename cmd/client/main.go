package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NicolasHaas/chatrelay/pkg/client"
	"github.com/NicolasHaas/chatrelay/pkg/logging"
	"github.com/NicolasHaas/chatrelay/pkg/model"
	"github.com/NicolasHaas/chatrelay/pkg/version"
)

func main() {
	settingsPath := flag.String("settings", client.SettingsPath(), "Settings YAML file")
	relayFlag := flag.String("relay", "", "Relay address (overrides settings)")
	joinTimeout := flag.Duration("join-timeout", 5*time.Second, "How long to wait for the relay to answer a join (0 waits forever)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	settings := client.LoadSettings(*settingsPath)
	if *relayFlag != "" {
		settings.Relay = *relayFlag
	}

	// Default to "warn" so logs stay out of the chat; override with
	// CHATRELAY_LOG_LEVEL (debug, info, warn, error).
	level := settings.LogLevel
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		level = v
	}
	logCloser, err := logging.Setup(logging.Options{
		Level:  level,
		Format: settings.LogFormat,
		Output: os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := client.Dial(settings.Relay)
	if err != nil {
		slog.Error("dial relay", "err", err)
		os.Exit(1)
	}
	defer p.Close()

	in := bufio.NewReader(os.Stdin)
	welcome, err := login(ctx, p, in, settings.Nickname, *joinTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println(welcome)

	settings.Nickname = p.Nickname()
	if err := settings.Save(*settingsPath); err != nil {
		slog.Debug("save settings", "path", *settingsPath, "err", err)
	}

	if err := p.Run(ctx, in, os.Stdout); err != nil {
		slog.Error("chat session ended", "err", err)
		os.Exit(1)
	}
}

// login prompts for a nickname until the relay accepts one.
func login(ctx context.Context, p *client.Participant, in *bufio.Reader, suggested string, timeout time.Duration) (string, error) {
	for {
		if suggested != "" {
			fmt.Printf("Nickname [%s]: ", suggested)
		} else {
			fmt.Print("Nickname: ")
		}
		line, err := in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return "", fmt.Errorf("read nickname: %w", err)
		}
		nickname := strings.TrimSpace(line)
		if nickname == "" {
			nickname = suggested
		}

		if err := model.ValidateNickname(nickname); err != nil {
			switch {
			case errors.Is(err, model.ErrNicknameEmpty):
				fmt.Println("Nickname field must be filled before proceeding.")
			default:
				fmt.Println("Nickname is not valid. It must not contain any spaces or special characters.")
			}
			suggested = ""
			continue
		}

		joinCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			joinCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		welcome, err := p.Join(joinCtx, nickname)
		cancel()
		switch {
		case err == nil:
			return welcome, nil
		case errors.Is(err, client.ErrNicknameTaken):
			fmt.Println("Nickname is already taken.")
			suggested = ""
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Println("No answer from the relay, try again.")
			suggested = nickname
		default:
			return "", err
		}
	}
}
