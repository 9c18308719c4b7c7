package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"play-rewards/internal/config"
	"play-rewards/internal/database"
	"play-rewards/internal/models"
	"play-rewards/internal/reward"
	"play-rewards/internal/services/rewards"
)

func main() {
	userID := flag.Int64("user", 0, "user id to inspect")
	token := flag.String("token", "", "session token to inspect")
	create := flag.Bool("create", false, "create a new online user")
	name := flag.String("name", "player", "name for -create")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	ctx := context.Background()
	store, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		panic(err)
	}
	defer store.Close()

	svc := rewards.NewService(store, reward.NewResolver(store, cfg.ScratchDefault, cfg.SpinUnitValue, nil),
		slog.New(slog.NewTextHandler(io.Discard, nil)), rewards.Options{
			Location:           cfg.Location,
			Threshold:          cfg.WeeklyBonusThreshold,
			DefaultContestType: cfg.ScratchDefaultContestType,
		})

	var user *models.User
	switch {
	case *create:
		*token = uuid.NewString()
		user, err = store.CreateUser(ctx, *name, *token, decimal.Zero)
		if err == nil {
			fmt.Println("session_token=", *token)
		}
	case *token != "":
		user, err = svc.Authenticate(ctx, *token)
	case *userID > 0:
		user, err = store.GetUser(ctx, *userID)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Println("err=", err)
		os.Exit(1)
	}

	wallet, err := svc.Wallet(ctx, user)
	if err != nil {
		fmt.Println("err=", err)
		os.Exit(1)
	}
	fmt.Println("user=", wallet.UserID, wallet.Name)
	fmt.Println("balance=", wallet.WalletBalance.StringFixed(2))

	w := svc.Window()
	fmt.Println("week=", w.WeekStartKey(), "..", w.WeekEndKey(), "day=", w.DayNumber)
	st, err := svc.CheckWeeklyEligibility(ctx, user)
	if err != nil {
		fmt.Println("err=", err)
		os.Exit(1)
	}
	fmt.Printf("matches=%d/%d eligible=%t spun=%t\n", st.MatchesPlayed, st.MatchesRequired, st.IsEligible, st.HasSpun)
	for _, ev := range []models.EventType{models.EventScratchCard, models.EventSpinWheel} {
		agg, err := store.WeeklyParticipation(ctx, user.ID, ev, w.WeekStartKey())
		if err != nil {
			fmt.Println("err=", err)
			continue
		}
		fmt.Printf("%s days=%v total=%s\n", ev, agg.DayNumbers, agg.TotalAmount.StringFixed(2))
	}

	ledger, err := store.ListParticipations(ctx, user.ID, w.WeekStartKey())
	if err != nil {
		fmt.Println("err=", err)
		os.Exit(1)
	}
	fmt.Println("ledger rows=", len(ledger))
	for _, p := range ledger {
		fmt.Printf("  %s day=%d %s key=%q amount=%s\n", p.EventDate, p.DayNumber, p.EventType, p.EventKey, p.Amount.StringFixed(2))
	}
}
