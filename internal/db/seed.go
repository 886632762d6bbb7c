package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var seedInterests = []string{
	"hiking", "cooking", "travel", "music", "yoga", "films", "reading",
	"running", "art", "coffee", "photography", "climbing",
}

// SeedTestData resets the database and populates it with demo profiles,
// decisions and a handful of matches with short conversations.
//
// Compatible with both MySQL and SQLite.
func SeedTestData(database *gorm.DB) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for _, table := range []string{"messages", "outbox_entries", "matches", "decisions", "profiles"} {
		if err := database.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	switch database.Dialector.Name() {
	case "mysql":
		database.Exec("ALTER TABLE profiles AUTO_INCREMENT = 1")
	case "sqlite":
		database.Exec("DELETE FROM sqlite_sequence WHERE name = 'profiles'")
	}

	log.Println("Cleared existing data")

	// 20 profiles scattered around a city center, with varied interests
	// and activity recency.
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	for i := 1; i <= 20; i++ {
		gender := "male"
		if i > 10 {
			gender = "female"
		}

		interests := ""
		for j := 0; j < 3+r.Intn(4); j++ {
			if interests != "" {
				interests += ","
			}
			interests += seedInterests[r.Intn(len(seedInterests))]
		}

		p := Profile{
			DisplayName:  fmt.Sprintf("user%d", i),
			Email:        fmt.Sprintf("user%d@example.com", i),
			PasswordHash: string(hash),
			Gender:       gender,
			BirthYear:    1985 + r.Intn(20),
			Bio:          "Here for the good conversations.",
			Interests:    interests,
			Lat:          51.5 + r.Float64()*0.4 - 0.2,
			Lng:          -0.12 + r.Float64()*0.4 - 0.2,
			LastActiveAt: time.Now().Add(-time.Duration(r.Intn(200)) * time.Hour),
			Completeness: 0.5 + r.Float64()*0.5,
			Verified:     r.Intn(100) < 60,
			PhotoCount:   1 + r.Intn(6),
			PhotoQuality: 0.3 + r.Float64()*0.7,
			Rating:       1400 + r.Float64()*200,
			ResponseRate: r.Float64(),
		}
		if err := database.Create(&p).Error; err != nil {
			return fmt.Errorf("failed to seed profile: %w", err)
		}
	}
	log.Println("Seeded 20 profiles.")

	// Decisions with ~70% likes; every third pair gets a guaranteed mutual
	// like plus the matching row and an opening message.
	counter := 0
	for actorID := uint64(1); actorID <= 20; actorID++ {
		for j := 0; j < 10; j++ {
			targetID := uint64(r.Intn(20) + 1)
			if actorID == targetID {
				continue
			}

			action := ActionPass
			if r.Intn(100) < 70 {
				action = ActionLike
			}

			if counter%3 == 0 {
				action = ActionLike
				recip := Decision{ActorID: targetID, TargetID: actorID, Action: ActionLike, Active: true}
				database.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
					DoUpdates: clause.AssignmentColumns([]string{"action", "active", "updated_at"}),
				}).Create(&recip)

				id, lo, hi := MatchKey(actorID, targetID)
				m := Match{ID: id, UserLoID: lo, UserHiID: hi, Active: true}
				database.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
			}

			d := Decision{ActorID: actorID, TargetID: targetID, Action: action, Active: true}
			if err := database.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "actor_id"}, {Name: "target_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"action", "active", "updated_at"}),
			}).Create(&d).Error; err != nil {
				return fmt.Errorf("failed to seed decision: %w", err)
			}

			counter++
		}
	}

	return nil
}
