package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mcdev12/courtside/go/internal/dbconfig"
	"github.com/mcdev12/courtside/go/internal/player"
)

// Player matches the layout of players.json
type Player struct {
	ID           uuid.UUID  `json:"id"`
	FullName     string     `json:"full_name"`
	TeamID       *uuid.UUID `json:"team_id"`
	JerseyNumber *int       `json:"jersey_number"`
	Position     string     `json:"position"`
}

func main() {
	ctx := context.Background()
	path := flag.String("file", "go/internal/assets/players.json", "players JSON snapshot")
	flag.Parse()

	// 1) Load players.json
	pData, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read players.json: %v\n", err)
		os.Exit(1)
	}
	var players []Player
	if err := json.Unmarshal(pData, &players); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal players: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect to DB
	cfg := dbconfig.NewConfigFromEnv()
	database, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	repo := player.NewRepository(database)

	// 3) Upsert players; existing rows are refreshed in place
	total, inserted, updated, errs := len(players), 0, 0, 0
	for _, p := range players {
		created, err := repo.UpsertPlayer(ctx, player.UpsertPlayerRequest{
			ID:           p.ID,
			FullName:     p.FullName,
			TeamID:       p.TeamID,
			JerseyNumber: p.JerseyNumber,
			Position:     p.Position,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error upserting player %s: %v\n", p.ID, err)
			errs++
			continue
		}
		if created {
			inserted++
		} else {
			updated++
		}
	}
	fmt.Printf(
		"Players seed: total=%d inserted=%d updated=%d errors=%d\n",
		total, inserted, updated, errs,
	)
}
