package httpapi

import (
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/types"
)

// Scanners that speak protobuf send a google.protobuf.Struct carrying the
// same keys as the JSON body.

// ── Access ───────────────────────────────────────────────────────────────────

func accessRequestFromProto(p *structpb.Struct) types.AccessRequest {
	f := p.GetFields()
	return types.AccessRequest{
		ModuleID:    f["module_id"].GetStringValue(),
		CardID:      f["card_id"].GetStringValue(),
		RequestedAt: f["requested_at"].GetStringValue(),
	}
}

func accessResponseToProto(r types.AccessResponse) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ok":          structpb.NewBoolValue(r.OK),
		"granted":     structpb.NewBoolValue(r.Granted),
		"opened":      structpb.NewBoolValue(r.Opened),
		"reason":      structpb.NewStringValue(r.Reason),
		"module_id":   structpb.NewStringValue(r.ModuleID),
		"server_time": structpb.NewStringValue(r.ServerTime),
	}}
}

func errorToProto(code, msg string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"error":   structpb.NewStringValue(code),
		"message": structpb.NewStringValue(msg),
	}}
}
