// Package controlplane implements the internal gRPC job-control service for
// the Ingest Worker and Scrape Worker: GetJobStatus, CancelJob, ListJobs
// (SPEC_FULL.md §10), grounded on the teacher's cmd/grpc-gateway keepalive
// scaffold, generalized from a placeholder listener into a real service.
//
// The service is defined by hand with a grpc.ServiceDesc rather than
// generated from a .proto file, per SPEC_FULL.md §1's dropped-dependency
// note: the message set here is small and stable enough that a JSON codec
// registered under its own content-subtype replaces the protobuf toolchain
// while keeping the real gRPC transport (HTTP/2 framing, keepalive,
// deadlines) that cmd/grpc-gateway's scaffold already set up.
package controlplane

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	xjson "encoding/json"

	"legal-research-engine/internal/apperr"
	"legal-research-engine/internal/scrape"
)

// codecName is the content-subtype this package registers its JSON codec
// under; servers and clients must both force it, since gRPC otherwise
// assumes a protobuf-backed codec.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements grpc's encoding.Codec over plain encoding/json,
// letting this service ship without a .proto/protoc-gen-go step.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return xjson.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return xjson.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

// ServerCodecOption is the grpc.ServerOption every controlplane server must
// be constructed with.
func ServerCodecOption() grpc.ServerOption { return grpc.ForceServerCodec(jsonCodec{}) }

// ClientCodecOption is the grpc.DialOption every controlplane client must
// dial with.
func ClientCodecOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}))
}

// JobStatusRequest names the job to inspect or cancel.
type JobStatusRequest struct {
	JobID string `json:"job_id"`
}

// JobStatusResponse mirrors scrape.Progress over the wire.
type JobStatusResponse struct {
	JobID       string              `json:"job_id"`
	Status      string              `json:"status"`
	Processed   int                 `json:"processed"`
	Total       int                 `json:"total"`
	Errors      int                 `json:"errors"`
	ProgressPct float64             `json:"progress_pct"`
	ErrorDetail []scrape.ErrorDetail `json:"error_details,omitempty"`
}

// CancelJobResponse acknowledges a cancellation request.
type CancelJobResponse struct {
	Cancelled bool `json:"cancelled"`
}

// ListJobsRequest takes no fields; present for symmetry with the other RPCs
// and to leave room for a future status filter.
type ListJobsRequest struct{}

// ListJobsResponse is every known job's current snapshot.
type ListJobsResponse struct {
	Jobs []JobStatusResponse `json:"jobs"`
}

func toResponse(p scrape.Progress) JobStatusResponse {
	return JobStatusResponse{
		JobID:       p.JobID,
		Status:      string(p.Status),
		Processed:   p.Processed,
		Total:       p.Total,
		Errors:      p.Errors,
		ProgressPct: p.ProgressPct,
		ErrorDetail: p.ErrorDetail,
	}
}

// JobSource is the subset of scrape.Worker the control plane needs. Kept as
// an interface so tests can substitute a fake without spinning up a real
// court-decisions adapter.
type JobSource interface {
	Status(jobID string) *scrape.Progress
	ListJobs() []scrape.Progress
	Cancel(jobID string) error
}

// Service implements the hand-rolled "legalresearch.controlplane.ControlPlane"
// gRPC service.
type Service struct {
	jobs JobSource
}

// New builds a Service over the given job source (normally the process's
// single Scrape Worker).
func New(jobs JobSource) *Service {
	return &Service{jobs: jobs}
}

// GetJobStatus reports one job's current progress.
func (s *Service) GetJobStatus(ctx context.Context, req *JobStatusRequest) (*JobStatusResponse, error) {
	p := s.jobs.Status(req.JobID)
	if p == nil {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("job not found: %s", req.JobID))
	}
	resp := toResponse(*p)
	return &resp, nil
}

// CancelJob cooperatively cancels a job.
func (s *Service) CancelJob(ctx context.Context, req *JobStatusRequest) (*CancelJobResponse, error) {
	if err := s.jobs.Cancel(req.JobID); err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &CancelJobResponse{Cancelled: true}, nil
}

// ListJobs returns every known job's snapshot.
func (s *Service) ListJobs(ctx context.Context, req *ListJobsRequest) (*ListJobsResponse, error) {
	jobs := s.jobs.ListJobs()
	out := make([]JobStatusResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toResponse(j))
	}
	return &ListJobsResponse{Jobs: out}, nil
}

// serviceName is the fully-qualified gRPC service name used in the wire
// method path ("/<serviceName>/<method>"), following the convention of a
// generated .proto package even though none exists here.
const serviceName = "legalresearch.controlplane.ControlPlane"

func decodeRequest(dec func(any) error, v any) error {
	return dec(v)
}

func getJobStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(JobStatusRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).GetJobStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetJobStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).GetJobStatus(ctx, req.(*JobStatusRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func cancelJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(JobStatusRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).CancelJob(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CancelJob"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).CancelJob(ctx, req.(*JobStatusRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func listJobsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ListJobsRequest)
	if err := decodeRequest(dec, req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Service).ListJobs(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListJobs"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Service).ListJobs(ctx, req.(*ListJobsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit from a .proto file for this service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetJobStatus", Handler: getJobStatusHandler},
		{MethodName: "CancelJob", Handler: cancelJobHandler},
		{MethodName: "ListJobs", Handler: listJobsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "controlplane.proto",
}

// Register mounts the control-plane service onto a grpc.Server constructed
// with ServerCodecOption.
func Register(s *grpc.Server, svc *Service) {
	s.RegisterService(&ServiceDesc, svc)
}
