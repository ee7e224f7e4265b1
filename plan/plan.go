// Package plan requests multi-week training plans from the plan generation service.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-coach-engine/gateway"
	coacherrors "github.com/jrsteele09/go-coach-engine/internal/errors"
	"github.com/tidwall/gjson"
)

const generatePath = "/plan/generate"

// Duration of a generated plan
type Duration string

const (
	OneWeek  Duration = "1-Week"
	OneMonth Duration = "1-Month"
)

// ParseDuration accepts the wire names and a few CLI friendly spellings
func ParseDuration(s string) (Duration, error) {
	switch s {
	case string(OneWeek), "week", "1w":
		return OneWeek, nil
	case string(OneMonth), "month", "1m":
		return OneMonth, nil
	}
	return "", fmt.Errorf("[ParseDuration] unknown plan duration %q: %w", s, coacherrors.ErrInvalidInput)
}

type generateRequest struct {
	Duration Duration `json:"duration"`
	Language string   `json:"language"`
}

type Service struct {
	caller gateway.Caller
}

func NewService(caller gateway.Caller) *Service {
	return &Service{caller: caller}
}

// Generate returns the plan as the service produced it. The plan body is not interpreted.
func (s *Service) Generate(ctx context.Context, d Duration, language string) (json.RawMessage, error) {
	if d != OneWeek && d != OneMonth {
		return nil, fmt.Errorf("[Generate] unknown plan duration %q: %w", d, coacherrors.ErrInvalidInput)
	}
	var out json.RawMessage
	if err := s.caller.Call(ctx, http.MethodPost, generatePath, generateRequest{Duration: d, Language: language}, &out); err != nil {
		return nil, fmt.Errorf("[Generate] %w", err)
	}
	// The service reports unparseable model output in-band
	if msg := gjson.GetBytes(out, "error"); msg.Exists() && !gjson.GetBytes(out, "weeks").Exists() {
		return nil, fmt.Errorf("[Generate] plan service: %s", msg.String())
	}
	return out, nil
}
