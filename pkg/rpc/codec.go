// Package rpc exposes the forecast service over gRPC.
//
// Messages are plain Go structs carried with a JSON codec registered under the
// "json" content subtype, so clients in any language can call the service
// with application/grpc+json and no generated stubs are needed.
//
// Service: shedcast.v1.Forecast
//
//	rpc Predict(PredictRequest) returns (PredictResponse)
//	rpc Analyze(AnalyzeRequest) returns (AnalyzeResponse)
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype the service is served with.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
