package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/hackgods/provider-availability/internal/availability"
	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/db"
	"github.com/hackgods/provider-availability/internal/logging"
	redisclient "github.com/hackgods/provider-availability/internal/redis"
)

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Denver",
	"America/Los_Angeles",
	"Europe/London",
	"Asia/Kolkata",
}

var sessionNotes = []string{
	"Walk-ins welcome if a slot is free",
	"Bring recent lab results",
	"Covering for a colleague",
	"",
}

var appointmentTypes = []string{"CONSULTATION", "FOLLOW_UP", "EMERGENCY", "TELEMEDICINE"}

func main() {
	var (
		providers int
		days      int
		startStr  string
	)
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Create fake provider availability through the availability service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if providers <= 0 || days <= 0 {
				return fmt.Errorf("--providers and --days must be > 0")
			}
			start := civil.DateOf(time.Now()).AddDays(1)
			if startStr != "" {
				d, err := civil.ParseDate(startStr)
				if err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
				start = d
			}
			return run(cmd.Context(), providers, days, start)
		},
	}
	cmd.Flags().IntVar(&providers, "providers", 100, "number of providers to seed")
	cmd.Flags().IntVar(&days, "days", 14, "days of availability per provider")
	cmd.Flags().StringVar(&startStr, "start", "", "first date to seed (YYYY-MM-DD, default tomorrow)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, providers, days int, start civil.Date) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}
	logger := logging.New(cfg.Env, "seed")
	logger.Info().Int("providers", providers).Int("days", days).Str("start", start.String()).Msg("seed starting")

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	svc := availability.NewService(
		availability.NewPgRepository(pool),
		redisclient.NewLocalLocker(),
		cfg,
		logger.Level(zerolog.WarnLevel),
	)

	gofakeit.Seed(time.Now().UnixNano())

	var windows, slots, conflicts int
	for i := 0; i < providers; i++ {
		providerID := uuid.New()
		for _, req := range providerSchedule(start, days) {
			created, err := svc.Create(ctx, providerID, req)
			if errors.Is(err, availability.ErrSlotConflict) {
				conflicts++
				continue
			}
			if err != nil {
				return fmt.Errorf("seed provider %s: %w", providerID, err)
			}
			windows += len(created)
			for _, w := range created {
				slots += len(w.Slots)
			}
		}
		if (i+1)%10 == 0 {
			logger.Info().Int("providers", i+1).Int("windows", windows).Msg("seed progress")
		}
	}

	logger.Info().
		Int("windows", windows).
		Int("slots", slots).
		Int("conflicts_skipped", conflicts).
		Msg("seed complete")
	return nil
}

// providerSchedule gives one provider a weekly morning block plus a few
// one-off afternoon sessions inside [start, start+days).
func providerSchedule(start civil.Date, days int) []availability.CreateRequest {
	tz := gofakeit.RandomString(timezones)
	location := &availability.Location{
		Type:       availability.LocationClinic,
		Address:    fmt.Sprintf("%s, %s", gofakeit.Street(), gofakeit.City()),
		RoomNumber: fmt.Sprintf("%d", gofakeit.Number(100, 499)),
	}
	pricing := &availability.PricingInput{
		BaseFee:           decimal.NewFromFloat(gofakeit.Price(80, 300)).Round(2),
		InsuranceAccepted: gofakeit.Bool(),
		Currency:          "USD",
	}
	slot := gofakeit.RandomInt([]int{15, 20, 30, 45})
	brk := gofakeit.RandomInt([]int{0, 5, 10})

	last := start.AddDays(days - 1)
	reqs := []availability.CreateRequest{{
		Date:              start,
		StartTime:         clock(gofakeit.Number(7, 9), 0),
		EndTime:           clock(12, 0),
		Timezone:          tz,
		SlotDuration:      &slot,
		BreakDuration:     &brk,
		AppointmentType:   "CONSULTATION",
		Location:          location,
		Pricing:           pricing,
		IsRecurring:       true,
		RecurrencePattern: "WEEKLY",
		RecurrenceEndDate: &last,
	}}

	for n := gofakeit.Number(1, 4); n > 0; n-- {
		day := start.AddDays(gofakeit.Number(0, days-1))
		from := gofakeit.Number(13, 16)
		reqs = append(reqs, availability.CreateRequest{
			Date:            day,
			StartTime:       clock(from, 0),
			EndTime:         clock(from+gofakeit.Number(1, 3), 0),
			Timezone:        tz,
			SlotDuration:    &slot,
			AppointmentType: gofakeit.RandomString(appointmentTypes),
			Location:        location,
			Pricing:         pricing,
			Notes:           gofakeit.RandomString(sessionNotes),
		})
	}
	return reqs
}

func clock(h, m int) availability.LocalTime {
	return availability.LocalTime{Time: civil.Time{Hour: h, Minute: m}}
}
