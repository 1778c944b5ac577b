package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/HatiCode/shedcast/pkg/adapters"
	"github.com/HatiCode/shedcast/pkg/analysis"
	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/features"
	"github.com/HatiCode/shedcast/pkg/forecast"
	"github.com/HatiCode/shedcast/pkg/storage"
)

const (
	ServiceName   = "shedcast.v1.Forecast"
	PredictMethod = "/" + ServiceName + "/Predict"
	AnalyzeMethod = "/" + ServiceName + "/Analyze"
)

// PredictRequest asks for the stage on one date. Date (YYYY-MM-DD) takes
// precedence over DaysAhead when set.
type PredictRequest struct {
	AreaID    string `json:"area_id,omitempty"`
	DaysAhead int    `json:"days_ahead,omitempty"`
	Date      string `json:"date,omitempty"`
}

// PredictResponse carries a nil Prediction while no model is trained.
type PredictResponse struct {
	Prediction *forecast.Prediction `json:"prediction"`
}

// AnalyzeRequest analyzes Events when given, otherwise the schedule of AreaID
// as reported by the source.
type AnalyzeRequest struct {
	AreaID string         `json:"area_id,omitempty"`
	Events []events.Event `json:"events,omitempty"`
}

// AnalyzeResponse carries nil Stats for an empty schedule.
type AnalyzeResponse struct {
	Stats *analysis.ScheduleStats `json:"stats"`
}

// ForecastServer is the server API for the shedcast.v1.Forecast service.
type ForecastServer interface {
	Predict(context.Context, *PredictRequest) (*PredictResponse, error)
	Analyze(context.Context, *AnalyzeRequest) (*AnalyzeResponse, error)
}

// ServiceDesc describes shedcast.v1.Forecast for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ForecastServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "Analyze", Handler: analyzeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "shedcast/v1/forecast",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv ForecastServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PredictRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForecastServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PredictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForecastServer).Predict(ctx, req.(*PredictRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AnalyzeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ForecastServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AnalyzeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ForecastServer).Analyze(ctx, req.(*AnalyzeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Predictor is the subset of forecast.Predictor the service needs.
type Predictor interface {
	Predict(ctx context.Context, target time.Time, areaID string) (forecast.Prediction, bool, error)
	PredictDaysAhead(ctx context.Context, areaID string, daysAhead int) (forecast.Prediction, bool, error)
}

// ScheduleSource fetches an area's schedule.
type ScheduleSource interface {
	Schedule(ctx context.Context, areaID string) (events.AreaSchedule, error)
}

// Service implements ForecastServer on top of a predictor and a source.
type Service struct {
	predictor Predictor
	source    ScheduleSource
}

// NewService creates a Service. source may be nil, in which case Analyze
// only accepts inline events.
func NewService(predictor Predictor, source ScheduleSource) *Service {
	return &Service{predictor: predictor, source: source}
}

func (s *Service) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	var (
		pred  forecast.Prediction
		found bool
		err   error
	)

	if req.AreaID != "" {
		if verr := storage.ValidateScope(req.AreaID); verr != nil {
			return nil, status.Errorf(codes.InvalidArgument, "area_id: %v", verr)
		}
	}

	if req.Date != "" {
		target, perr := time.Parse(forecast.DateLayout, req.Date)
		if perr != nil {
			return nil, status.Errorf(codes.InvalidArgument, "date must be YYYY-MM-DD: %v", perr)
		}
		pred, found, err = s.predictor.Predict(ctx, target, req.AreaID)
	} else {
		if req.DaysAhead < 0 {
			return nil, status.Error(codes.InvalidArgument, "days_ahead cannot be negative")
		}
		pred, found, err = s.predictor.PredictDaysAhead(ctx, req.AreaID, req.DaysAhead)
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "predict: %v", err)
	}

	if !found {
		return &PredictResponse{}, nil
	}
	return &PredictResponse{Prediction: &pred}, nil
}

func (s *Service) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	evs := req.Events
	if len(evs) == 0 {
		if req.AreaID == "" {
			return nil, status.Error(codes.InvalidArgument, "area_id or events required")
		}
		if s.source == nil {
			return nil, status.Error(codes.FailedPrecondition, "no schedule source configured")
		}

		schedule, err := s.source.Schedule(ctx, req.AreaID)
		if errors.Is(err, adapters.ErrAreaNotFound) {
			return nil, status.Errorf(codes.NotFound, "area %q not found", req.AreaID)
		}
		if err != nil {
			return nil, status.Errorf(codes.Unavailable, "fetch schedule: %v", err)
		}
		evs = schedule.Events
	}

	stats, err := analysis.Analyze(evs)
	var malformed *features.MalformedEventError
	if errors.As(err, &malformed) {
		return nil, status.Error(codes.InvalidArgument, malformed.Error())
	}
	if err != nil {
		return nil, status.Errorf(codes.Internal, "analyze: %v", err)
	}
	return &AnalyzeResponse{Stats: stats}, nil
}
