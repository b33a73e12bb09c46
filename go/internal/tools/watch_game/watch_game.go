package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/courtside/go/internal/gateway"
	"github.com/mcdev12/courtside/go/internal/live"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "courtside server base URL")
	gameFlag := flag.String("game", "", "game id to watch")
	flag.Parse()

	gameID, err := uuid.Parse(*gameFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -game: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 1) Catch up over REST so the box score has names and tallies
	state, err := fetchState(ctx, *server, gameID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch state: %v\n", err)
		os.Exit(1)
	}
	projection := live.ProjectionFromView(state.LiveView)
	printBoard(projection.Scoreboard())

	// 2) Follow the live stream as a viewer
	wsURL, err := socketURL(*server, gameID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad server url: %v\n", err)
		os.Exit(2)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
			}
			break
		}
		if err := projection.ApplyMessage(data); err != nil {
			fmt.Fprintf(os.Stderr, "skipping message: %v\n", err)
			continue
		}
		board := projection.Scoreboard()
		printBoard(board)
		if board.Final {
			break
		}
	}

	printBoxScore(projection.View())
}

func fetchState(ctx context.Context, server string, gameID uuid.UUID) (*gateway.LiveStateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/games/"+gameID.String()+"/live", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body gateway.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
	}
	var state gateway.LiveStateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func socketURL(server string, gameID uuid.UUID) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/games"
	u.RawQuery = url.Values{"game_id": {gameID.String()}, "role": {string(gateway.RoleViewer)}}.Encode()
	return u.String(), nil
}

func printBoard(b live.Scoreboard) {
	marker := ""
	if b.Final {
		marker = " FINAL"
	}
	fmt.Printf("[%d] %s %d - %d %s  Q%d %02d:%02d  shot %02d  %s%s\n",
		b.Seq, b.HomeTeam, b.HomeScore, b.AwayScore, b.AwayTeam,
		b.Period, b.ClockMinutes, b.ClockSeconds, b.ShotClock, b.Status, marker)
}

func printBoxScore(view live.LiveView) {
	fmt.Println()
	for _, line := range view.Players {
		number := "--"
		if line.JerseyNumber != nil {
			number = fmt.Sprintf("%2d", *line.JerseyNumber)
		}
		fmt.Printf("%-4s #%s %-24s %3d pts %2d fouls\n", line.Side, number, line.Name, line.Points, line.Fouls)
	}
}
