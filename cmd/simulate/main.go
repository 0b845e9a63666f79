package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	CreateRatio     float64
	UpdateRatio     float64
	DeleteRatio     float64
	ReadRatio       float64
	Providers       int
	HorizonDays     int
	Timezone        string
	ContentionCalls int
	JWTSecret       string
}

type createdWindow struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
}

type DataPool struct {
	Providers []uuid.UUID
	mu        sync.RWMutex
	windows   []createdWindow
}

func (dp *DataPool) AddWindow(w createdWindow) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.windows = append(dp.windows, w)
}

// TakeWindow removes and returns a random window so two workers never
// delete the same one.
func (dp *DataPool) TakeWindow(rng *rand.Rand) (createdWindow, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.windows) == 0 {
		return createdWindow{}, false
	}
	idx := rng.Intn(len(dp.windows))
	w := dp.windows[idx]
	dp.windows[idx] = dp.windows[len(dp.windows)-1]
	dp.windows = dp.windows[:len(dp.windows)-1]
	return w, true
}

func (dp *DataPool) RandomWindow(rng *rand.Rand) (createdWindow, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.windows) == 0 {
		return createdWindow{}, false
	}
	return dp.windows[rng.Intn(len(dp.windows))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1],
		percentile(50), percentile(95), percentile(99)
}

type Metrics struct {
	Create         OperationMetrics
	Update         OperationMetrics
	Delete         OperationMetrics
	ReadByID       OperationMetrics
	ListByProvider OperationMetrics
	Search         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  zerolog.Logger
	today   civil.Date
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.Env, "simulate")

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("providers", cfg.Providers).
		Float64("create", cfg.CreateRatio).
		Float64("update", cfg.UpdateRatio).
		Float64("delete", cfg.DeleteRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	dataPool := &DataPool{}
	for i := 0; i < cfg.Providers; i++ {
		dataPool.Providers = append(dataPool.Providers, uuid.New())
	}

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		today:  civil.DateOf(time.Now()),
	}

	ctx := context.Background()
	if err := sim.CheckContention(ctx); err != nil {
		logger.Error().Err(err).Msg("contention check failed")
	}

	sim.Run(ctx)
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort)
	v.SetDefault("SIM_DURATION", "30s")
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_CREATE_RATIO", 0.3)
	v.SetDefault("SIM_UPDATE_RATIO", 0.1)
	v.SetDefault("SIM_DELETE_RATIO", 0.05)
	v.SetDefault("SIM_READ_RATIO", 0.55)
	v.SetDefault("SIM_PROVIDERS", 50)
	v.SetDefault("SIM_HORIZON_DAYS", 30)
	v.SetDefault("SIM_TIMEZONE", "America/New_York")
	v.SetDefault("SIM_CONTENTION_CALLS", 20)

	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(v.GetString("SIM_API_BASE_URL"), "/"),
		Duration:        v.GetDuration("SIM_DURATION"),
		Workers:         v.GetInt("SIM_WORKERS"),
		CreateRatio:     v.GetFloat64("SIM_CREATE_RATIO"),
		UpdateRatio:     v.GetFloat64("SIM_UPDATE_RATIO"),
		DeleteRatio:     v.GetFloat64("SIM_DELETE_RATIO"),
		ReadRatio:       v.GetFloat64("SIM_READ_RATIO"),
		Providers:       v.GetInt("SIM_PROVIDERS"),
		HorizonDays:     v.GetInt("SIM_HORIZON_DAYS"),
		Timezone:        v.GetString("SIM_TIMEZONE"),
		ContentionCalls: v.GetInt("SIM_CONTENTION_CALLS"),
		JWTSecret:       base.JWTSecret,
	}

	// Normalize ratios
	total := cfg.CreateRatio + cfg.UpdateRatio + cfg.DeleteRatio + cfg.ReadRatio
	if total > 0 {
		cfg.CreateRatio /= total
		cfg.UpdateRatio /= total
		cfg.DeleteRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Providers <= 0 {
		return fmt.Errorf("SIM_PROVIDERS must be > 0")
	}
	if cfg.HorizonDays <= 0 {
		return fmt.Errorf("SIM_HORIZON_DAYS must be > 0")
	}
	return nil
}

// CheckContention fires identical creates for one provider and date at the
// same time. Exactly one of them may be accepted.
func (s *Simulator) CheckContention(ctx context.Context) error {
	if s.config.ContentionCalls < 2 {
		return nil
	}
	provider := uuid.New()
	date := s.today.AddDays(s.config.HorizonDays + 1)
	body := s.createBody(provider, date, 9, 12)

	var accepted, rejected, failed int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.ContentionCalls; i++ {
		g.Go(func() error {
			status, _, err := s.send(gctx, http.MethodPost, "/api/v1/provider/availability", provider, body)
			switch {
			case err != nil:
				atomic.AddInt64(&failed, 1)
			case status == http.StatusCreated:
				atomic.AddInt64(&accepted, 1)
			case status == http.StatusConflict:
				atomic.AddInt64(&rejected, 1)
			default:
				atomic.AddInt64(&failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int64("accepted", accepted).
		Int64("rejected", rejected).
		Int64("failed", failed).
		Str("date", date.String()).
		Msg("contention check finished")
	if accepted != 1 {
		return fmt.Errorf("expected exactly one accepted create, got %d", accepted)
	}
	return nil
}

func (s *Simulator) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.CreateRatio:
				s.doCreate(ctx, rng)
			case r < s.config.CreateRatio+s.config.UpdateRatio:
				s.doUpdate(ctx, rng)
			case r < s.config.CreateRatio+s.config.UpdateRatio+s.config.DeleteRatio:
				s.doDelete(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByProvider(ctx, rng)
				case 2:
					s.doSearch(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) createBody(provider uuid.UUID, date civil.Date, fromHour, toHour int) map[string]any {
	return map[string]any{
		"providerId":      provider.String(),
		"date":            date.String(),
		"startTime":       fmt.Sprintf("%02d:00", fromHour),
		"endTime":         fmt.Sprintf("%02d:00", toHour),
		"timezone":        s.config.Timezone,
		"slotDuration":    30,
		"appointmentType": "CONSULTATION",
	}
}

// doCreate picks random hours, so overlapping creates for the same provider
// and date show up as conflicts.
func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	date := s.today.AddDays(1 + rng.Intn(s.config.HorizonDays))
	from := 7 + rng.Intn(10)
	body := s.createBody(provider, date, from, from+1+rng.Intn(3))

	start := time.Now()
	status, raw, err := s.send(ctx, http.MethodPost, "/api/v1/provider/availability", provider, body)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	success := err == nil && status == http.StatusCreated
	if success {
		var resp struct {
			Data struct {
				AvailabilityID uuid.UUID `json:"availabilityId"`
			} `json:"data"`
		}
		if json.Unmarshal(raw, &resp) == nil && resp.Data.AvailabilityID != uuid.Nil {
			s.pool.AddWindow(createdWindow{ID: resp.Data.AvailabilityID, ProviderID: provider})
		}
	}
	s.metrics.Create.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doUpdate(ctx context.Context, rng *rand.Rand) {
	w, ok := s.pool.RandomWindow(rng)
	if !ok {
		return
	}
	body := map[string]any{
		"slotDuration": []int{15, 20, 30, 45}[rng.Intn(4)],
		"notes":        fmt.Sprintf("updated by simulator at %s", time.Now().Format(time.RFC3339)),
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodPut, "/api/v1/provider/availability/"+w.ID.String(), w.ProviderID, body)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Update.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doDelete(ctx context.Context, rng *rand.Rand) {
	w, ok := s.pool.TakeWindow(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodDelete, "/api/v1/provider/availability/"+w.ID.String()+"?reason=simulation", w.ProviderID, nil)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Delete.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	w, ok := s.pool.RandomWindow(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, "/api/v1/provider/availability/"+w.ID.String(), uuid.Nil, nil)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	// a concurrent delete makes 404 an expected outcome
	s.metrics.ReadByID.Record(latency, err == nil && (status == http.StatusOK || status == http.StatusNotFound), false)
}

func (s *Simulator) doListByProvider(ctx context.Context, rng *rand.Rand) {
	provider := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	from := s.today
	to := from.AddDays(s.config.HorizonDays)
	path := fmt.Sprintf("/api/v1/provider/%s/availability?startDate=%s&endDate=%s&size=20", provider, from, to)

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, path, uuid.Nil, nil)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListByProvider.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doSearch(ctx context.Context, rng *rand.Rand) {
	from := s.today.AddDays(rng.Intn(s.config.HorizonDays))
	path := fmt.Sprintf("/api/v1/availability/search?startDate=%s&endDate=%s&appointmentType=CONSULTATION&size=20", from, from.AddDays(7))

	start := time.Now()
	status, _, err := s.send(ctx, http.MethodGet, path, uuid.Nil, nil)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Search.Record(latency, err == nil && status == http.StatusOK, false)
}

// send issues one request. A provider token is attached when a JWT secret
// is configured and provider is set.
func (s *Simulator) send(ctx context.Context, method, path string, provider uuid.UUID, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.config.JWTSecret != "" && provider != uuid.Nil {
		token, err := s.providerToken(provider)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, err
}

func (s *Simulator) providerToken(provider uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub":  provider.String(),
		"role": "provider",
		"exp":  time.Now().Add(5 * time.Minute).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.JWTSecret))
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Providers: %d\n", s.config.Providers)
	fmt.Println()

	printOperationReport("Create", &s.metrics.Create)
	printOperationReport("Update", &s.metrics.Update)
	printOperationReport("Delete", &s.metrics.Delete)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Provider", &s.metrics.ListByProvider)
	printOperationReport("Search", &s.metrics.Search)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	fmt.Println()
}
