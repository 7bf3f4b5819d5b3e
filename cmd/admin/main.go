package main

import (
	"agora/backend/internal/api/handler"
	"agora/backend/internal/config"
	"agora/backend/internal/keys"
	"agora/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]
  keygen                          generate a new identity
  token <pubkey> [ttl_hours]      issue an API token for the hub identity
  community <id>                  show the cached community
  modlog <community> [limit]      print the moderation log
  invites <community>             list invite links`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	command := os.Args[1]
	switch command {
	case "keygen":
		signer, err := keys.Generate()
		if err != nil {
			log.Fatalf("Error generating key: %v", err)
		}
		fmt.Printf("PRIVATE_KEY=%s\npubkey: %s\n", signer.PrivateKeyHex(), signer.PublicKey())

	case "token":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin token <pubkey> [ttl_hours]")
			os.Exit(1)
		}
		ttl := 24
		if len(os.Args) > 3 {
			if ttl, err = strconv.Atoi(os.Args[3]); err != nil || ttl <= 0 {
				fmt.Println("Invalid ttl. Please provide a positive integer.")
				os.Exit(1)
			}
		}
		token, err := handler.IssueToken([]byte(cfg.JWTSecret), os.Args[2], time.Duration(ttl)*time.Hour)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)

	case "community":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin community <id>")
			os.Exit(1)
		}
		if err := showCommunity(openStorage(cfg), os.Args[2]); err != nil {
			log.Fatalf("Error loading community: %v", err)
		}

	case "modlog":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin modlog <community> [limit]")
			os.Exit(1)
		}
		limit := 20
		if len(os.Args) > 3 {
			if limit, err = strconv.Atoi(os.Args[3]); err != nil {
				fmt.Println("Invalid limit. Please provide an integer.")
				os.Exit(1)
			}
		}
		if err := printModerationLog(openStorage(cfg), os.Args[2], limit); err != nil {
			log.Fatalf("Error reading moderation log: %v", err)
		}

	case "invites":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin invites <community>")
			os.Exit(1)
		}
		if err := printInvites(openStorage(cfg), os.Args[2]); err != nil {
			log.Fatalf("Error listing invites: %v", err)
		}

	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func openStorage(cfg *config.Config) storage.Storage {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	return storage.NewStorageService(db, nil) // No redis needed for admin CLI
}

func showCommunity(s storage.Storage, id string) error {
	c, err := s.GetCommunity(context.Background(), id)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Printf("Community %s is not cached.\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\ncreator: %s\nmembers: %d, moderators: %d\nversion: %s at %s\n",
		c.Name, c.ID, c.Creator, len(c.Members), len(c.Moderators),
		c.EventID, time.Unix(c.CreatedAt, 0).UTC().Format(time.DateTime))
	return nil
}

func printModerationLog(s storage.Storage, communityID string, limit int) error {
	entries, err := s.ListModerationEntries(context.Background(), communityID, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No moderation entries.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-14s %-16s by %s  %s\n",
			time.Unix(e.Timestamp, 0).UTC().Format(time.DateTime), e.Action, e.Target, e.Moderator, e.Reason)
	}
	return nil
}

func printInvites(s storage.Storage, communityID string) error {
	invites, err := s.ListInvites(context.Background(), communityID)
	if err != nil {
		return err
	}
	if len(invites) == 0 {
		fmt.Println("No invites.")
		return nil
	}
	for _, inv := range invites {
		uses, expires := "unlimited", "never"
		if inv.MaxUses != nil {
			uses = strconv.Itoa(*inv.MaxUses)
		}
		if inv.ExpiresAt != nil {
			expires = inv.ExpiresAt.UTC().Format(time.DateTime)
		}
		fmt.Printf("%s  used %d/%s  expires %s\n", inv.ID, inv.UsedCount, uses, expires)
	}
	return nil
}
