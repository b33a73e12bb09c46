package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/courtside/go/internal/dbconfig"
	"github.com/mcdev12/courtside/go/internal/models"
)

// Game matches the layout of games.json
type Game struct {
	ID         uuid.UUID `json:"id"`
	HomeTeamID uuid.UUID `json:"home_team_id"`
	AwayTeamID uuid.UUID `json:"away_team_id"`
	StartsAt   time.Time `json:"starts_at"`
}

func main() {
	ctx := context.Background()
	path := flag.String("file", "go/internal/assets/games.json", "games JSON snapshot")
	flag.Parse()

	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read games.json: %v\n", err)
		os.Exit(1)
	}
	var games []Game
	if err := json.Unmarshal(data, &games); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal games: %v\n", err)
		os.Exit(1)
	}

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.PoolDSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	total, inserted, skipped, errs := len(games), 0, 0, 0
	for _, g := range games {
		tag, err := pool.Exec(ctx, `
            INSERT INTO games (id, home_team_id, away_team_id, status, starts_at)
            VALUES ($1,$2,$3,$4,$5)
            ON CONFLICT (id) DO NOTHING
        `, g.ID, g.HomeTeamID, g.AwayTeamID, string(models.GameStatusScheduled), g.StartsAt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting game %s: %v\n", g.ID, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Printf(
		"Games seed: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs,
	)
}
