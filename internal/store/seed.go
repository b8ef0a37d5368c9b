package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/gochat-relay/internal/relay"
)

// Fixture is the JSON document accepted by the seed command and SEED_FILE.
type Fixture struct {
	Users       []FixtureUser `json:"users" validate:"dive"`
	Friendships [][2]string   `json:"friendships"`
}

type FixtureUser struct {
	ID          string `json:"id" validate:"required"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Seeder is implemented by directories that can be populated from a fixture.
type Seeder interface {
	CreateUser(ctx context.Context, user relay.User, password string) error
	AddFriendship(ctx context.Context, a, b string) error
}

// SeedResult counts what a Seed call changed.
type SeedResult struct {
	UsersCreated int
	UsersSkipped int
	Friendships  int
}

var fixtureValidator = validator.New(validator.WithRequiredStructEnabled())

// LoadFixture reads and validates the fixture at path.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	if err := fixtureValidator.Struct(f); err != nil {
		return Fixture{}, fmt.Errorf("validate fixture %s: %w", path, err)
	}
	return f, nil
}

// Seed creates the fixture's users and friendships. Users that already
// exist are left untouched so a fixture can be applied more than once.
func Seed(ctx context.Context, s Seeder, f Fixture) (SeedResult, error) {
	var result SeedResult
	for _, u := range f.Users {
		user := relay.User{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
		err := s.CreateUser(ctx, user, u.Password)
		switch {
		case errors.Is(err, ErrUserExists):
			result.UsersSkipped++
			log.Debug().Str("userId", u.ID).Msg("seed user already exists")
		case err != nil:
			return result, err
		default:
			result.UsersCreated++
		}
	}

	for _, pair := range f.Friendships {
		if err := s.AddFriendship(ctx, pair[0], pair[1]); err != nil {
			return result, err
		}
		result.Friendships++
	}
	return result, nil
}
