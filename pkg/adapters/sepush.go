package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/shedcast/pkg/events"
)

// DefaultSePushURL is the EskomSePush business API root.
const DefaultSePushURL = "https://developer.sepush.co.za/business/2.0/"

// SePushAdapter fetches area schedules and the national status from the
// EskomSePush API.
//
// Every successful response is remembered. When a later fetch fails the
// adapter serves the last good snapshot for that area (or status) and logs
// a warning, so a flaky upstream does not stall training.
//
// Example:
//
//	adapter := &SePushAdapter{
//	    Token:   os.Getenv("SOURCE_TOKEN"),
//	    AreaIDs: []string{"capetown-9-kenilworth", "eskde-10-fourwaysext10cityofjohannesburggauteng"},
//	}
type SePushAdapter struct {
	// BaseURL is the API root. Defaults to DefaultSePushURL.
	BaseURL string

	// Token is sent in the "token" header (required).
	Token string

	// AreaIDs are the areas returned by Areas.
	AreaIDs []string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// Logger is optional; if nil slog.Default is used.
	Logger *slog.Logger

	mu         sync.Mutex
	lastAreas  map[string]events.AreaSchedule
	lastStatus *NationalStatus
}

func (s *SePushAdapter) Name() string { return "sepush" }

// Areas fetches every configured area. An area that cannot be fetched is
// served from the last good snapshot; without one it is skipped. An error is
// returned only when no area could be produced at all.
func (s *SePushAdapter) Areas(ctx context.Context) ([]events.AreaSchedule, error) {
	if len(s.AreaIDs) == 0 {
		return nil, errors.New("sepush adapter: no area ids configured")
	}

	areas := make([]events.AreaSchedule, 0, len(s.AreaIDs))
	var errs []error
	for _, id := range s.AreaIDs {
		schedule, err := s.Schedule(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		areas = append(areas, schedule)
	}

	if len(areas) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		s.logger().Warn("skipping area", "error", err)
	}
	return areas, nil
}

// Schedule fetches /area?id=<areaID>.
func (s *SePushAdapter) Schedule(ctx context.Context, areaID string) (events.AreaSchedule, error) {
	if areaID == "" {
		return events.AreaSchedule{}, errors.New("sepush adapter: area id is required")
	}

	body, err := s.get(ctx, "area", url.Values{"id": {areaID}})
	if err == nil {
		var schedule events.AreaSchedule
		if schedule, err = parseSchedule(areaID, gjson.ParseBytes(body)); err == nil {
			s.mu.Lock()
			if s.lastAreas == nil {
				s.lastAreas = make(map[string]events.AreaSchedule)
			}
			s.lastAreas[areaID] = schedule
			s.mu.Unlock()
			return schedule, nil
		}
	}

	s.mu.Lock()
	cached, ok := s.lastAreas[areaID]
	s.mu.Unlock()
	if ok && ctx.Err() == nil {
		s.logger().Warn("area fetch failed, serving last snapshot", "area_id", areaID, "error", err)
		return cached, nil
	}
	return events.AreaSchedule{}, fmt.Errorf("sepush adapter: area %s: %w", areaID, err)
}

// Status fetches /status.
func (s *SePushAdapter) Status(ctx context.Context) (NationalStatus, error) {
	body, err := s.get(ctx, "status", nil)
	if err == nil {
		var status NationalStatus
		if status, err = parseStatus(gjson.GetBytes(body, "status")); err == nil {
			s.mu.Lock()
			s.lastStatus = &status
			s.mu.Unlock()
			return status, nil
		}
	}

	s.mu.Lock()
	cached := s.lastStatus
	s.mu.Unlock()
	if cached != nil && ctx.Err() == nil {
		s.logger().Warn("status fetch failed, serving last snapshot", "error", err)
		return *cached, nil
	}
	return NationalStatus{}, fmt.Errorf("sepush adapter: status: %w", err)
}

func (s *SePushAdapter) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	if s.Token == "" {
		return nil, errors.New("token is required")
	}

	base := s.BaseURL
	if base == "" {
		base = DefaultSePushURL
	}
	u := strings.TrimRight(base, "/") + "/" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	cli := s.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("token", s.Token)

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrAreaNotFound, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return nil, errors.New("response is not valid JSON")
	}
	return respBody, nil
}

func (s *SePushAdapter) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
