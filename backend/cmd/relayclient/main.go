// Command relayclient advertises or follows a location relay session from the terminal.
//
//	relayclient advertise [--code ABC123] [--interval 2s]
//	relayclient subscribe --code ABC123
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adwski/waypoint/backend/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	writeDeadline = 5 * time.Second
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("relayclient", pflag.ContinueOnError)

	var (
		url      = fs.StringP("url", "u", "ws://localhost:8888/ws", "relay websocket url")
		code     = fs.StringP("code", "c", "", "session code")
		interval = fs.DurationP("interval", "i", 2*time.Second, "location update interval when advertising")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if fs.NArg() != 1 {
		logger.Fatal().Msg("expected one command: advertise or subscribe")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	defer func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeDeadline))
		_ = conn.Close()
	}()
	go func() {
		<-ctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	switch fs.Arg(0) {
	case "advertise":
		if err = send(conn, model.Advertise{Code: *code}); err != nil {
			logger.Fatal().Err(err).Msg("failed to advertise")
		}
		go receive(conn, &logger)
		advertise(ctx, conn, *interval, &logger)
	case "subscribe":
		if err = send(conn, model.Subscribe{Code: *code}); err != nil {
			logger.Fatal().Err(err).Msg("failed to subscribe")
		}
		receive(conn, &logger)
	default:
		logger.Fatal().Str("command", fs.Arg(0)).Msg("unknown command")
	}
}

// advertise sends a point moving around a circle until ctx is done.
func advertise(ctx context.Context, conn *websocket.Conn, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var step float64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		step++
		loc, _ := json.Marshal(map[string]float64{
			"lat": 52.52 + 0.01*math.Sin(step/10),
			"lon": 13.405 + 0.01*math.Cos(step/10),
		})
		if err := send(conn, model.Location{Location: loc, Route: json.RawMessage(`[]`)}); err != nil {
			logger.Error().Err(err).Msg("failed to send location")
			return
		}
		logger.Debug().RawJSON("location", loc).Msg("location sent")
	}
}

func receive(conn *websocket.Conn, logger *zerolog.Logger) {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			logger.Info().Err(err).Msg("connection closed")
			return
		}
		msg, err := model.DecodeMessage(b)
		if err != nil {
			logger.Warn().Bytes("raw", b).Msg("unrecognized message")
			continue
		}
		switch m := msg.(type) {
		case model.Advertising:
			fmt.Printf("advertising as %s\n", m.Code)
		case model.Error:
			logger.Error().Msg(m.Message)
		default:
			logger.Info().RawJSON("message", b).Msg(msg.MessageType())
		}
	}
}

func send(conn *websocket.Conn, msg model.Message) error {
	b, err := model.EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err = conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
