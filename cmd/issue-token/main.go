// Command issue-token signs a bearer token for local testing of the API.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/handler"
)

func main() {
	var (
		secret string
		userID string
		role   string
		ttl    time.Duration
	)

	flag.StringVar(&secret, "secret", "", "HS256 secret (or MARKET_JWT_SECRET env)")
	flag.StringVar(&userID, "user", "", "token subject")
	flag.StringVar(&role, "role", string(auth.RoleUser), "USER, SELLER or ADMIN")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if secret == "" {
		secret = os.Getenv("MARKET_JWT_SECRET")
	}
	id := auth.Identity{UserID: userID, Role: auth.Role(strings.ToUpper(role))}
	switch {
	case secret == "":
		lg.Fatal("Secret is required: set --secret or MARKET_JWT_SECRET")
	case id.UserID == "":
		lg.Fatal("User is required")
	case !id.Role.Valid():
		lg.Fatal("Unknown role", zap.String("role", role))
	}

	token, err := handler.SignToken([]byte(secret), id, ttl, time.Now())
	if err != nil {
		lg.Fatal("Sign token", zap.Error(err))
	}
	fmt.Println(token)
}
