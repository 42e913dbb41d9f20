package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/amoria-app/chatsync/internal/config"
	"github.com/amoria-app/chatsync/internal/engine"
	"github.com/amoria-app/chatsync/internal/notify"
	"github.com/amoria-app/chatsync/internal/session"
	"github.com/amoria-app/chatsync/internal/subs"
	"github.com/amoria-app/chatsync/internal/transport"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	demoFlag := flag.Bool("demo", false, "run against an in-memory loopback transport")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "error: user_id missing from config")
		os.Exit(1)
	}

	var (
		t transport.Transport
		l subs.Loader
	)
	if *demoFlag {
		lb := transport.NewLoopback(cfg.UserID)
		lb.EchoDelay = 200 * time.Millisecond
		lb.EchoClientRef = true
		t, l = lb, lb
	} else {
		if cfg.ServerURL == "" {
			fmt.Fprintln(os.Stderr, "error: server_url missing from config")
			os.Exit(1)
		}
		ws := transport.NewWS(cfg.ServerURL, cfg.AuthToken)
		t, l = ws, ws
	}

	p := engine.Params{
		SessionName:     sessionName,
		UserID:          cfg.UserID,
		MatchWindow:     time.Duration(cfg.MatchWindowSeconds) * time.Second,
		StaleAfter:      time.Duration(cfg.StaleAfterSeconds) * time.Second,
		PersistDebounce: time.Duration(cfg.PersistDebounceMillis) * time.Millisecond,
		Notifications: notify.Settings{
			Sound:  cfg.Notifications.Sound,
			Visual: cfg.Notifications.Visual,
		},
	}

	app := fx.New(
		engine.Module(p, t, l),
		fx.Invoke(func(*engine.Engine) {}),
	)

	app.Run()
}
