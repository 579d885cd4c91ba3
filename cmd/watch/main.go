package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"xpfinance.app/internal/protocol"
	"xpfinance.app/internal/view"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		user = flag.String("user", "", "user id to watch")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		UserID:          *user,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s user=%s catalog=%s", w.SessionID, w.UserID, w.CatalogDigest)
			if w.Profile != nil {
				printView(logger, 0, *w.Profile)
			}

		case protocol.TypeProfile:
			var p protocol.ProfileMsg
			if err := json.Unmarshal(msg, &p); err != nil {
				continue
			}
			printView(logger, p.Seq, p.Profile)

		case protocol.TypeInvalidated:
			var inv protocol.InvalidatedMsg
			_ = json.Unmarshal(msg, &inv)
			logger.Printf("INVALIDATED user=%s reason=%q", inv.UserID, inv.Reason)
			return

		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			logger.Printf("ERROR %s: %s", e.Code, e.Message)
			return
		}
	}
}

func printView(logger *log.Logger, seq uint64, v view.Profile) {
	d := v.Dashboard
	logger.Printf("#%d level=%d %s %s balance=%s latest=%v degraded=%t",
		seq, d.Standing.Level, d.XPLabel, d.ProgressLabel, d.BalanceLabel, d.LatestAchievements, d.Degraded)
	for _, f := range v.Frames {
		if f.Equipped {
			logger.Printf("    frame %s (%s) equipped", f.ID, f.Name)
		}
	}
}
