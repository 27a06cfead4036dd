package grpc

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"nailsdash/backend/internal/domain"
)

// Identity headers are set by the authenticating gateway in front of this service.
const (
	customerIDHeader = "x-customer-id"
	storeAdminHeader = "x-store-admin"
)

type caller struct {
	CustomerID string
	StoreAdmin bool
}

func callerFrom(ctx context.Context) caller {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return caller{}
	}
	c := caller{CustomerID: firstValue(md, customerIDHeader)}
	if v := firstValue(md, storeAdminHeader); v != "" {
		c.StoreAdmin, _ = strconv.ParseBool(v)
	}
	return c
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := firstValue(md, "idempotency-key"); v != "" {
		return v
	}
	return firstValue(md, "x-idempotency-key")
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// fields reads typed values out of a request document. The first decoding failure is kept
// and reported by err.
type fields struct {
	m     map[string]*structpb.Value
	first error
}

func newFields(req *structpb.Struct) *fields {
	if req == nil {
		return &fields{m: map[string]*structpb.Value{}}
	}
	return &fields{m: req.GetFields()}
}

func (f *fields) fail(format string, args ...any) {
	if f.first == nil {
		f.first = status.Errorf(codes.InvalidArgument, format, args...)
	}
}

func (f *fields) err() error {
	return f.first
}

func (f *fields) has(name string) bool {
	v, ok := f.m[name]
	if !ok {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return !isNull
}

func (f *fields) str(name string) string {
	if !f.has(name) {
		return ""
	}
	s, ok := f.m[name].GetKind().(*structpb.Value_StringValue)
	if !ok {
		f.fail("%s must be a string", name)
		return ""
	}
	return strings.TrimSpace(s.StringValue)
}

func (f *fields) boolean(name string) bool {
	if !f.has(name) {
		return false
	}
	b, ok := f.m[name].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		f.fail("%s must be a boolean", name)
		return false
	}
	return b.BoolValue
}

func (f *fields) integer(name string) int {
	if !f.has(name) {
		return 0
	}
	n, ok := f.m[name].GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		f.fail("%s must be an integer", name)
		return 0
	}
	return int(n.NumberValue)
}

func (f *fields) id(name string) uuid.UUID {
	s := f.str(name)
	if s == "" {
		f.fail("%s is required", name)
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		f.fail("%s must be a UUID", name)
		return uuid.Nil
	}
	return id
}

func (f *fields) optionalID(name string) *uuid.UUID {
	if f.str(name) == "" {
		return nil
	}
	id := f.id(name)
	return &id
}

func (f *fields) date(name string) domain.Date {
	s := f.str(name)
	if s == "" {
		f.fail("%s is required", name)
		return domain.Date{}
	}
	d, err := domain.ParseDate(name, s)
	if err != nil {
		f.fail("%s", err.Error())
	}
	return d
}

func (f *fields) optionalDate(name string) *domain.Date {
	if f.str(name) == "" {
		return nil
	}
	d := f.date(name)
	return &d
}

func (f *fields) timeOfDay(name string) domain.TimeOfDay {
	s := f.str(name)
	if s == "" {
		f.fail("%s is required", name)
		return domain.TimeOfDay{}
	}
	t, err := domain.ParseTimeOfDay(name, s)
	if err != nil {
		f.fail("%s", err.Error())
	}
	return t
}

func (f *fields) optionalTimeOfDay(name string) *domain.TimeOfDay {
	if f.str(name) == "" {
		return nil
	}
	t := f.timeOfDay(name)
	return &t
}

func (f *fields) optionalString(name string) *string {
	if !f.has(name) {
		return nil
	}
	s := f.str(name)
	return &s
}
