// Command seed fills the step and profile tables that other services own in
// production, and optionally creates a demo group owned by the first user.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/step-groups/internal/config"
	"github.com/step-groups/internal/domain"
	"github.com/step-groups/internal/postgres"
	"github.com/step-groups/internal/service"
)

var namePrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
}

func userID(idx int) string {
	return fmt.Sprintf("user-%04d", idx+1)
}

func displayName(idx int) string {
	prefixIdx := idx % len(namePrefixes)
	suffix := idx/len(namePrefixes) + 1
	return fmt.Sprintf("%s%d", namePrefixes[prefixIdx], suffix)
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	totalUsers := flag.Int("users", 50, "Number of users to create")
	days := flag.Int("days", 62, "Days of step history to generate, ending today")
	batchSize := flag.Int("batch", 500, "Rows per database batch")
	groupName := flag.String("group", "", "Create a private weekly group with this name holding every user")
	flag.Parse()

	if *totalUsers < 1 || *days < 1 || *batchSize < 1 {
		log.Fatal("users, days and batch must be positive")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Failed to load config, using defaults: %v", err)
		cfg = config.DefaultConfig()
	}
	loc, err := cfg.Leaderboard.Location()
	if err != nil {
		log.Fatalf("Invalid timezone: %v", err)
	}

	ctx := context.Background()

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	fmt.Printf("Seeding %d users with %d days of steps\n", *totalUsers, *days)

	profiles := make([]domain.Profile, 0, *totalUsers)
	for i := 0; i < *totalUsers; i++ {
		profiles = append(profiles, domain.Profile{UserID: userID(i), DisplayName: displayName(i)})
	}
	if err := repo.UpsertProfiles(ctx, profiles); err != nil {
		log.Fatalf("Failed to write profiles: %v", err)
	}
	fmt.Printf("✓ Wrote %d profiles\n", len(profiles))

	today := domain.DateOf(time.Now(), loc)
	batch := make([]postgres.DailySteps, 0, *batchSize)
	written := 0
	flush := func() {
		if err := repo.BatchUpsertSteps(ctx, batch); err != nil {
			log.Fatalf("Failed to write steps: %v", err)
		}
		written += len(batch)
		batch = batch[:0]
		fmt.Printf("\r  Progress: %d/%d rows", written, *totalUsers**days)
	}

	for i := 0; i < *totalUsers; i++ {
		// Lower indexes walk more so rankings have a stable top
		base := 4000 + rand.Intn(4000) + (*totalUsers-i)*50
		for d := 0; d < *days; d++ {
			steps := base + rand.Intn(3000) - 1500
			if rand.Intn(10) == 0 {
				steps = 0
			}
			batch = append(batch, postgres.DailySteps{
				UserID: userID(i),
				Date:   today.AddDate(0, 0, -d),
				Steps:  int64(max(steps, 0)),
			})
			if len(batch) == *batchSize {
				flush()
			}
		}
	}
	if len(batch) > 0 {
		flush()
	}
	fmt.Printf("\n✓ Wrote %d daily step rows\n", written)

	if *groupName == "" {
		return
	}

	groups := service.NewGroupService(repo, repo, nil, &cfg.Groups, logger)
	owner := userID(0)
	group, err := groups.CreateGroup(ctx, owner, domain.CreateGroupRequest{
		Name:       *groupName,
		PeriodType: domain.PeriodWeekly,
	})
	if err != nil {
		log.Fatalf("Failed to create group: %v", err)
	}
	for i := 1; i < *totalUsers; i++ {
		if _, err := groups.InviteMember(ctx, owner, group.ID, userID(i)); err != nil {
			log.Fatalf("Failed to add %s: %v", userID(i), err)
		}
	}
	fmt.Printf("✓ Created group %s (%s) with %d members, join code %s\n",
		group.Name, group.ID, *totalUsers, *group.JoinCode)
}
