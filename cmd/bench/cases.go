// README: Benchmark cases for the ride lifecycle; includes HTTP flow, race, DB, Redis and performance checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"bora/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	tokens map[string]string
	// state carried between the lifecycle cases
	rideID string
	code   string
	winner string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

type rideEnvelope struct {
	Ride struct {
		ID               string   `json:"id"`
		Status           string   `json:"status"`
		Version          int      `json:"version"`
		VerificationCode string   `json:"verification_code"`
		ActualPrice      *float64 `json:"actual_price"`
	} `json:"ride"`
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		tokens: map[string]string{},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

// token mints (and caches) an HS256 token for uid; drivers are uids starting with "bench-d".
func (r *Runner) token(uid string) (string, error) {
	if t, ok := r.tokens[uid]; ok {
		return t, nil
	}
	role := "passenger"
	if strings.HasPrefix(uid, "bench-d") {
		role = "driver"
	}
	t, err := infra.IssueToken(r.cfg.JWTSecret, uid, uid+"@bench.local", uid, role, time.Hour)
	if err != nil {
		return "", err
	}
	r.tokens[uid] = t
	return t, nil
}

func (r *Runner) call(ctx context.Context, method, path, uid string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		tok, err := r.token(uid)
		if err != nil {
			return 0, nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, time.Since(start), err
}

func (r *Runner) requestRide(ctx context.Context, uid string) (rideEnvelope, error) {
	var env rideEnvelope
	status, body, _, err := r.call(ctx, http.MethodPost, "/api/rides/request", uid, map[string]any{
		"origin":      map[string]any{"address": "Av. Paulista, 1000", "coordinates": map[string]any{"latitude": -23.5614, "longitude": -46.6559}},
		"destination": map[string]any{"address": "Parque Ibirapuera", "coordinates": map[string]any{"latitude": -23.5874, "longitude": -46.6576}},
	})
	if err != nil {
		return env, err
	}
	if status != http.StatusCreated {
		return env, fmt.Errorf("request ride: status=%d", status)
	}
	return env, json.Unmarshal(body, &env)
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name: "Env: Postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Env: Redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: statusSkip, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: apply (optional)",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration || r.db == nil {
					return Result{Status: statusSkip, Note: "apply-migration=false or db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "Migration: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: statusSkip, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: statusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: statusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: statusPass}
			},
		},
		{
			Name: "API: health",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodGet, "/health", "", nil))(http.StatusOK)
			},
		},
		{
			Name: "API: missing token -> 401",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodGet, "/api/rides/mine", "", nil))(http.StatusUnauthorized)
			},
		},
		{
			Name: "Ride: passenger requests ride",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.JWTSecret == "" {
					return Result{Status: statusFail, Note: "BORA_JWT_SECRET not set"}
				}
				start := time.Now()
				env, err := r.requestRide(ctx, "bench-p1")
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				r.rideID, r.code = env.Ride.ID, env.Ride.VerificationCode
				return Result{Status: statusPass, Latency: time.Since(start), Note: "ride=" + r.rideID}
			},
		},
		{
			Name: "Ride: missing destination -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodPost, "/api/rides/request", "bench-p1", map[string]any{
					"origin": map[string]any{"address": "Av. Paulista, 1000"},
				}))(http.StatusBadRequest)
			},
		},
		{
			Name: "Ride: driver finish before accept -> 403",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodPost, r.ridePath("/finish"), "bench-d0", nil))(http.StatusForbidden)
			},
		},
		{
			Name: "Concurrency: multi accept same ride",
			Run:  concurrentAccept,
		},
		{
			Name: "Ride: wrong verification code -> 400",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodPost, r.ridePath("/verify-code"), r.winner, map[string]any{"code": "XXXXXX"}))(http.StatusBadRequest)
			},
		},
		r.driverStep("Ride: driver arrived", "/arrived", nil),
		{
			Name: "Ride: verify code",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodPost, r.ridePath("/verify-code"), r.winner, map[string]any{"code": r.code}))(http.StatusOK)
			},
		},
		r.driverStep("Ride: start trip", "/start", nil),
		r.driverStep("Ride: location update", "/location", map[string]any{"latitude": -23.57, "longitude": -46.657, "speed_kmh": 35}),
		{
			Name: "Ride: details with estimate",
			Run: func(ctx context.Context, r *Runner) Result {
				status, body, latency, err := r.call(ctx, http.MethodGet, r.ridePath("/details"), "bench-p1", nil)
				res := expect(status, body, latency, err)(http.StatusOK)
				if res.Status == statusPass && !bytes.Contains(body, []byte("estimated_arrival")) {
					res.Note = "no estimate (routing provider not configured?)"
				}
				return res
			},
		},
		r.driverStep("Ride: finish trip", "/finish", nil),
		{
			Name: "Ride: completed cannot be cancelled",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodPost, r.ridePath("/cancel"), "bench-p1", nil))(http.StatusBadRequest)
			},
		},
		{
			Name: "Ride: passenger rates driver",
			Run: func(ctx context.Context, r *Runner) Result {
				return expect(r.call(ctx, http.MethodPost, r.ridePath("/rate"), "bench-p1", map[string]any{"rating": 5}))(http.StatusOK)
			},
		},
		{
			Name: "Consistency: version matches event log",
			Run:  checkVersionMatchesEvents,
		},
		{
			Name: "Concurrency: accept vs cancel",
			Run:  acceptVersusCancel,
		},
		{
			Name: "Perf: location update throughput",
			Run:  perfLocation,
		},
		{
			Name: "Perf: request ride throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				return perfLoad(ctx, r, func(ctx context.Context, i int) error {
					_, err := r.requestRide(ctx, fmt.Sprintf("bench-perf-p%d", i))
					return err
				})
			},
		},
	}
}

func (r *Runner) ridePath(suffix string) string {
	return "/api/rides/" + r.rideID + suffix
}

func (r *Runner) driverStep(name, suffix string, body any) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			if r.winner == "" {
				return Result{Status: statusSkip, Note: "no driver accepted the ride"}
			}
			return expect(r.call(ctx, http.MethodPost, r.ridePath(suffix), r.winner, body))(http.StatusOK)
		},
	}
}

func expect(status int, body []byte, latency time.Duration, err error) func(want int) Result {
	return func(want int) Result {
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		note := fmt.Sprintf("status=%d", status)
		if status != want {
			return Result{Status: statusFail, Latency: latency, Note: note + " body=" + strings.TrimSpace(string(body))}
		}
		return Result{Status: statusPass, Latency: latency, Note: note}
	}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.rideID == "" {
		return Result{Status: statusSkip, Note: "no ride"}
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		conflict int
		other    []int
	)
	// tokens are minted up front; the cache is not safe for concurrent use
	for i := 0; i < r.cfg.Concurrency; i++ {
		if _, err := r.token(fmt.Sprintf("bench-d%d", i)); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			status, _, _, err := r.call(ctx, http.MethodPost, r.ridePath("/accept"), uid, map[string]any{"vehicle": "bench"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, 0)
			case status == http.StatusOK:
				winners = append(winners, uid)
			case status == http.StatusConflict:
				conflict++
			default:
				other = append(other, status)
			}
		}(fmt.Sprintf("bench-d%d", i))
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%v", len(winners), conflict, other)
	if len(winners) != 1 || len(other) > 0 {
		return Result{Status: statusFail, Note: note}
	}
	r.winner = winners[0]
	return Result{Status: statusPass, Note: note}
}

func acceptVersusCancel(ctx context.Context, r *Runner) Result {
	env, err := r.requestRide(ctx, "bench-p2")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	path := "/api/rides/" + env.Ride.ID
	if _, err := r.token("bench-d0"); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	var wg sync.WaitGroup
	var acceptStatus, cancelStatus int
	wg.Add(2)
	go func() {
		defer wg.Done()
		acceptStatus, _, _, _ = r.call(ctx, http.MethodPost, path+"/accept", "bench-d0", nil)
	}()
	go func() {
		defer wg.Done()
		cancelStatus, _, _, _ = r.call(ctx, http.MethodPost, path+"/cancel", "bench-p2", map[string]any{"reason": "bench"})
	}()
	wg.Wait()

	status, body, _, err := r.call(ctx, http.MethodGet, path, "bench-p2", nil)
	if err != nil || status != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("reload status=%d err=%v", status, err)}
	}
	var final rideEnvelope
	if err := json.Unmarshal(body, &final); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("accept=%d cancel=%d final=%s", acceptStatus, cancelStatus, final.Ride.Status)
	if cancelStatus != http.StatusOK || final.Ride.Status != "cancelled" {
		return Result{Status: statusFail, Note: note}
	}
	if acceptStatus != http.StatusOK && acceptStatus != http.StatusBadRequest {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func checkVersionMatchesEvents(ctx context.Context, r *Runner) Result {
	if r.db == nil || r.rideID == "" {
		return Result{Status: statusSkip, Note: "db not configured or no ride"}
	}
	var version, events int
	err := r.db.QueryRow(ctx, `
		SELECT r.version, (SELECT COUNT(*) FROM ride_events e WHERE e.ride_id = r.id)
		FROM rides r WHERE r.id = $1`, r.rideID).Scan(&version, &events)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	note := fmt.Sprintf("version=%d events=%d", version, events)
	if events != version+1 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func perfLocation(ctx context.Context, r *Runner) Result {
	env, err := r.requestRide(ctx, "bench-p3")
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	path := "/api/rides/" + env.Ride.ID
	for _, step := range []string{"/accept", "/start"} {
		if status, _, _, err := r.call(ctx, http.MethodPost, path+step, "bench-d-perf", nil); err != nil || status != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("%s status=%d err=%v", step, status, err)}
		}
	}
	return perfLoad(ctx, r, func(ctx context.Context, i int) error {
		status, _, _, err := r.call(ctx, http.MethodPost, path+"/location", "bench-d-perf", map[string]any{
			"latitude":  -23.56 - float64(i%100)*0.0001,
			"longitude": -46.65,
		})
		if err == nil && status != http.StatusOK {
			err = fmt.Errorf("status=%d", status)
		}
		return err
	})
}

// perfLoad runs fn from cfg.Concurrency workers for cfg.Duration.
func perfLoad(ctx context.Context, r *Runner, fn func(ctx context.Context, i int) error) Result {
	for i := 0; i < r.cfg.Concurrency; i++ {
		if _, err := r.token(fmt.Sprintf("bench-perf-p%d", i)); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}
	end := time.Now().Add(r.cfg.Duration)
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		count    int64
		errCount int64
	)
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				err := fn(ctx, i)
				mu.Lock()
				if err != nil {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
