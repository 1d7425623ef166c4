// mktoken mints a bearer token for a user id, for local development
// against the authenticated endpoints.
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"papertrade/internal/auth"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatal("usage: mktoken <user-id>")
	}
	issuer := os.Getenv("JWT_ISSUER")
	secret := os.Getenv("JWT_SECRET")
	if issuer == "" || secret == "" {
		log.Fatal("JWT_ISSUER and JWT_SECRET must be set")
	}
	svc := auth.NewService(issuer, []byte(secret), 24*time.Hour)
	token, err := svc.SignToken(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(token)
}
